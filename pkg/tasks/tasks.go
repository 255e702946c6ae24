// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package tasks implements the provisioning steps of the driver. Each task
// pairs a forward action with a compensating one and exchanges data with
// the other tasks of its flow through State.
package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/device"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/flow"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/settings"
)

// State carries task inputs and outputs for one flow run
type State struct {
	// Inputs
	LoadBalancer   *model.LoadBalancer
	LoadBalancerID string
	Listeners      []*model.Listener
	Listener       *model.Listener
	Amphora        *model.Amphora
	ServerGroupID  string

	// Outputs
	Appliance            *model.Appliance
	ComputeID            string
	AllocatedApplianceID string

	// createdApplianceID names the record created in this run, for revert
	createdApplianceID string
}

// Task is a provisioning step over State
type Task = flow.Task[*State]

// ApplianceStore is the appliance registry as seen by tasks
type ApplianceStore interface {
	GetByLoadBalancer(ctx context.Context, loadBalancerID string) (*model.Appliance, error)
	GetByProject(ctx context.Context, projectID string) (*model.Appliance, error)
	Create(ctx context.Context, a model.Appliance) (*model.Appliance, error)
	Delete(ctx context.Context, loadBalancerID string) error
	DeleteByApplianceID(ctx context.Context, applianceID string) error
	ResolveCompute(ctx context.Context, a *model.Appliance) (string, error)
}

// StatusMarker flags listeners whose provisioning failed
type StatusMarker interface {
	MarkListenerError(ctx context.Context, listenerID string) error
}

// Settings resolves the tunables used by tasks
type Settings interface {
	ListenerSettings() (*settings.Listener, error)
	ApplianceDefaults() (*settings.ApplianceDefaults, error)
}

// CertMaterializer makes a listener's certificate available on an appliance
type CertMaterializer interface {
	Materialize(ctx context.Context, lb *model.LoadBalancer, l *model.Listener, s device.Session) (string, error)
}

// ComputeVerifier checks that a compute instance still exists
type ComputeVerifier interface {
	VerifyCompute(ctx context.Context, computeID string) error
}

func requireLoadBalancer(s *State) error {
	if s.LoadBalancer == nil || s.LoadBalancer.ID == "" {
		return fault.Validation("load balancer is required")
	}
	return nil
}

func requireAppliance(s *State) error {
	if s.Appliance == nil {
		return fault.Validation("no appliance resolved for load balancer")
	}
	return s.Appliance.Validate()
}

// withSession opens a fresh session, runs fn and logs off
func withSession(ctx context.Context, sessions device.Factory, a *model.Appliance, log logr.Logger, fn func(device.Session) error) error {
	sess, err := sessions.Open(ctx, a)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(ctx); err != nil {
			log.Error(err, "failed to close appliance session", "appliance", a.ApplianceID)
		}
	}()
	return fn(sess)
}

// markListeners flags every listener as failed and joins the errors
func markListeners(ctx context.Context, status StatusMarker, log logr.Logger, listeners []*model.Listener) error {
	var errs []error
	for _, l := range listeners {
		if err := status.MarkListenerError(ctx, l.ID); err != nil {
			log.Error(err, "failed to mark listener as failed", "listener", l.ID)
			errs = append(errs, fmt.Errorf("listener %s: %w", l.ID, err))
		}
	}
	return errors.Join(errs...)
}
