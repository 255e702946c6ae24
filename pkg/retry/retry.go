// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package retry bounds blocking calls to the appliance and the secret store
// with a per-attempt timeout and exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
)

// Policy configures attempts and per-attempt deadlines
type Policy struct {
	// Timeout bounds a single attempt
	Timeout time.Duration `yaml:"timeout"`
	// MaxTries counts the first attempt. Values below 2 are raised to 2.
	MaxTries        uint          `yaml:"maxTries"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

// DefaultPolicy returns a 30s per-attempt timeout with three tries
func DefaultPolicy() Policy {
	return Policy{
		Timeout:         30 * time.Second,
		MaxTries:        3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.MaxTries < 2 {
		p.MaxTries = 2
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	return p
}

// Retrier runs operations under a Policy
type Retrier struct {
	policy Policy
	log    logr.Logger
}

// New creates a Retrier. Zero fields of p take their defaults.
func New(p Policy, log logr.Logger) *Retrier {
	return &Retrier{policy: p.withDefaults(), log: log}
}

// Policy returns the effective policy
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs fn until it succeeds, returns a permanent error, or the tries are
// exhausted. Each attempt gets its own deadline derived from ctx.
func (r *Retrier) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return struct{}{}, nil
		}
		if !Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: attempt timed out after %s: %w", fault.ErrDeviceCommunication, r.policy.Timeout, err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.policy.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.V(1).Info("retrying call", "operation", name, "attempt", attempt, "next", next, "error", err.Error())
		}),
	)
	if err != nil {
		return fmt.Errorf("%s failed after %d attempt(s): %w", name, attempt, err)
	}
	return nil
}

// Retryable reports whether err may go away on a repeated call. Lookup
// misses, duplicates, validation errors and caller cancellation are final.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, fault.ErrNotFound),
		errors.Is(err, fault.ErrConflict),
		errors.Is(err, fault.ErrValidation),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
