// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package flow runs provisioning tasks in order and compensates committed
// tasks in reverse order when one of them fails.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// Task is one provisioning step with a compensating action. Revert receives
// the error that failed the pipeline. It runs for the failed task itself and
// for every task committed before it.
type Task[S any] interface {
	Name() string
	Execute(ctx context.Context, state S) error
	Revert(ctx context.Context, state S, cause error) error
}

// TaskState is the final state of a task in one run
type TaskState string

const (
	StatePending   TaskState = "pending"
	StateCommitted TaskState = "committed"
	StateReverted  TaskState = "reverted"
	// StateRevertFailed marks a task whose compensation returned an error
	StateRevertFailed TaskState = "revert_failed"
)

// TaskResult records what happened to one task
type TaskResult struct {
	Task  string
	State TaskState
	Err   error
}

// Error is returned by Run when a task fails. It unwraps to the task's error.
type Error struct {
	Flow         string
	Task         string
	Cause        error
	RevertErrors []error
	Results      []TaskResult
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("flow %s failed at task %s: %v", e.Flow, e.Task, e.Cause)
	if len(e.RevertErrors) > 0 {
		parts := make([]string, 0, len(e.RevertErrors))
		for _, err := range e.RevertErrors {
			parts = append(parts, err.Error())
		}
		msg += fmt.Sprintf(" (revert errors: %s)", strings.Join(parts, "; "))
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// State returns the recorded state of a task, or pending when it never ran
func (e *Error) State(task string) TaskState {
	for _, r := range e.Results {
		if r.Task == task {
			return r.State
		}
	}
	return StatePending
}

// Runner executes a fixed list of tasks
type Runner[S any] struct {
	name    string
	tasks   []Task[S]
	log     logr.Logger
	metrics *Metrics
}

// New creates a Runner. metrics may be nil.
func New[S any](name string, log logr.Logger, metrics *Metrics, tasks ...Task[S]) *Runner[S] {
	return &Runner[S]{
		name:    name,
		tasks:   tasks,
		log:     log.WithValues("flow", name),
		metrics: metrics,
	}
}

// Name returns the flow name
func (r *Runner[S]) Name() string {
	return r.name
}

// Run executes every task in order. On the first failure the failed task and
// then every committed task are reverted, newest first, and a *Error is
// returned. Reverts run even when ctx is cancelled.
func (r *Runner[S]) Run(ctx context.Context, state S) error {
	results := make([]TaskResult, len(r.tasks))
	for i, t := range r.tasks {
		results[i] = TaskResult{Task: t.Name(), State: StatePending}
	}

	r.log.V(1).Info("flow start", "tasks", len(r.tasks))
	start := time.Now()

	for i, t := range r.tasks {
		if err := ctx.Err(); err != nil {
			return r.rollback(ctx, state, results, i-1, t.Name(), err)
		}

		log := r.log.WithValues("task", t.Name())
		log.V(1).Info("task start")
		taskStart := time.Now()

		err := t.Execute(ctx, state)
		r.metrics.observe(r.name, t.Name(), time.Since(taskStart), err)
		if err != nil {
			log.Error(err, "task failed")
			return r.rollback(ctx, state, results, i, t.Name(), err)
		}

		results[i].State = StateCommitted
		log.V(1).Info("task committed", "duration", time.Since(taskStart).String())
	}

	r.log.Info("flow completed", "duration", time.Since(start).String())
	return nil
}

// rollback reverts tasks[0..last] newest first
func (r *Runner[S]) rollback(ctx context.Context, state S, results []TaskResult, last int, failed string, cause error) error {
	revertCtx := context.WithoutCancel(ctx)
	flowErr := &Error{Flow: r.name, Task: failed, Cause: cause}

	for i := last; i >= 0; i-- {
		t := r.tasks[i]
		log := r.log.WithValues("task", t.Name())
		log.Info("reverting task")
		r.metrics.reverted(r.name, t.Name())

		if err := t.Revert(revertCtx, state, cause); err != nil {
			log.Error(err, "task revert failed")
			results[i].State = StateRevertFailed
			results[i].Err = err
			flowErr.RevertErrors = append(flowErr.RevertErrors, fmt.Errorf("revert %s: %w", t.Name(), err))
			continue
		}
		results[i].State = StateReverted
	}

	flowErr.Results = results
	return flowErr
}

// AsError extracts a *Error from err
func AsError(err error) (*Error, bool) {
	var flowErr *Error
	ok := errors.As(err, &flowErr)
	return flowErr, ok
}
