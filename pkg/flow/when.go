// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package flow

import "context"

// When runs task only if cond holds for the state at the time the task is
// reached. Revert re-evaluates cond, so cond must only depend on state
// written by earlier tasks.
func When[S any](cond func(S) bool, task Task[S]) Task[S] {
	return &conditional[S]{cond: cond, task: task}
}

type conditional[S any] struct {
	cond func(S) bool
	task Task[S]
}

func (c *conditional[S]) Name() string {
	return c.task.Name()
}

func (c *conditional[S]) Execute(ctx context.Context, state S) error {
	if !c.cond(state) {
		return nil
	}
	return c.task.Execute(ctx, state)
}

func (c *conditional[S]) Revert(ctx context.Context, state S, cause error) error {
	if !c.cond(state) {
		return nil
	}
	return c.task.Revert(ctx, state, cause)
}
