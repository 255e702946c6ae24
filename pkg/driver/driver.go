// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package driver composes the provisioning tasks into the flows the host
// controller calls for load balancer and listener lifecycle events.
package driver

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/device"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/flow"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/tasks"
)

// Flow names, also used as the flow metric label
const (
	FlowCreateLoadBalancer = "create-load-balancer"
	FlowDeleteLoadBalancer = "delete-load-balancer"
	FlowCreateListeners    = "create-listeners"
	FlowUpdateListeners    = "update-listeners"
	FlowDeleteListener     = "delete-listener"
	FlowComputeForProject  = "compute-for-project"
)

// Options are the collaborators of a Driver. Certs and Verifier are optional.
type Options struct {
	Store    tasks.ApplianceStore
	Settings tasks.Settings
	Sessions device.Factory
	Certs    tasks.CertMaterializer
	Status   tasks.StatusMarker
	Verifier tasks.ComputeVerifier
	Metrics  *flow.Metrics
	Log      logr.Logger
}

// Driver runs provisioning flows against vThunder appliances
type Driver struct {
	log logr.Logger

	createLoadBalancer *flow.Runner[*tasks.State]
	deleteLoadBalancer *flow.Runner[*tasks.State]
	createListeners    *flow.Runner[*tasks.State]
	updateListeners    *flow.Runner[*tasks.State]
	deleteListener     *flow.Runner[*tasks.State]
	computeForProject  *flow.Runner[*tasks.State]
}

// New builds a Driver and its flows
func New(opts Options) (*Driver, error) {
	if opts.Store == nil || opts.Settings == nil || opts.Sessions == nil || opts.Status == nil {
		return nil, fault.Validation("driver requires a store, settings, a session factory and a status marker")
	}
	log := opts.Log

	create := tasks.NewCreateListeners(opts.Sessions, opts.Settings, opts.Certs, opts.Status, log)
	update := tasks.NewUpdateListeners(opts.Sessions, opts.Settings, opts.Certs, opts.Status, log)
	resolve := &tasks.ResolveApplianceForLoadBalancer{Store: opts.Store}

	unallocated := func(s *tasks.State) bool { return s.AllocatedApplianceID == "" }
	allocated := func(s *tasks.State) bool { return s.AllocatedApplianceID != "" }

	d := &Driver{log: log}
	d.createLoadBalancer = flow.New[*tasks.State](FlowCreateLoadBalancer, log, opts.Metrics,
		&tasks.AllocateApplianceForLoadBalancer{Store: opts.Store, Log: log},
		flow.When[*tasks.State](unallocated, &tasks.CreateApplianceEntry{Store: opts.Store, Settings: opts.Settings, Log: log}),
		flow.When[*tasks.State](allocated, &tasks.LinkApplianceEntry{Store: opts.Store, Log: log}),
		create,
	)
	d.deleteLoadBalancer = flow.New[*tasks.State](FlowDeleteLoadBalancer, log, opts.Metrics,
		&tasks.DeleteApplianceEntry{Store: opts.Store, Log: log},
	)
	d.createListeners = flow.New[*tasks.State](FlowCreateListeners, log, opts.Metrics,
		resolve,
		create,
	)
	d.updateListeners = flow.New[*tasks.State](FlowUpdateListeners, log, opts.Metrics,
		resolve,
		update,
	)
	d.deleteListener = flow.New[*tasks.State](FlowDeleteListener, log, opts.Metrics,
		&tasks.ResolveApplianceForLoadBalancerID{Store: opts.Store},
		tasks.NewDeleteListener(opts.Sessions, opts.Status, log),
	)
	d.computeForProject = flow.New[*tasks.State](FlowComputeForProject, log, opts.Metrics,
		&tasks.ResolveComputeForProject{Store: opts.Store, Verifier: opts.Verifier, Log: log},
	)
	return d, nil
}

// CreateLoadBalancer places lb on an appliance and programs its listeners.
// An existing appliance of the project is reused unless serverGroupID asks
// for anti-affinity, in which case amphora backs a new appliance entry.
func (d *Driver) CreateLoadBalancer(ctx context.Context, lb *model.LoadBalancer, amphora *model.Amphora, serverGroupID string) (*model.Appliance, error) {
	s := &tasks.State{LoadBalancer: lb, Amphora: amphora, ServerGroupID: serverGroupID}
	if err := d.createLoadBalancer.Run(ctx, s); err != nil {
		return nil, err
	}
	d.log.Info("load balancer placed on appliance", "loadBalancer", lb.ID,
		"appliance", s.Appliance.ApplianceID, "shared", s.AllocatedApplianceID != "")
	return s.Appliance, nil
}

// DeleteLoadBalancer removes the appliance entry of lb
func (d *Driver) DeleteLoadBalancer(ctx context.Context, lb *model.LoadBalancer) error {
	return d.deleteLoadBalancer.Run(ctx, &tasks.State{LoadBalancer: lb})
}

// CreateListeners programs every listener of lb
func (d *Driver) CreateListeners(ctx context.Context, lb *model.LoadBalancer) error {
	return d.createListeners.Run(ctx, &tasks.State{LoadBalancer: lb})
}

// UpdateListeners reprograms the given listeners of lb
func (d *Driver) UpdateListeners(ctx context.Context, lb *model.LoadBalancer, listeners []*model.Listener) error {
	return d.updateListeners.Run(ctx, &tasks.State{LoadBalancer: lb, Listeners: listeners})
}

// DeleteListener removes one listener of lb
func (d *Driver) DeleteListener(ctx context.Context, lb *model.LoadBalancer, listener *model.Listener) error {
	if lb == nil {
		return fault.Validation("load balancer is required")
	}
	return d.deleteListener.Run(ctx, &tasks.State{LoadBalancer: lb, LoadBalancerID: lb.ID, Listener: listener})
}

// ComputeForProject returns the compute instance behind the appliance of
// lb's project
func (d *Driver) ComputeForProject(ctx context.Context, lb *model.LoadBalancer) (string, error) {
	s := &tasks.State{LoadBalancer: lb}
	if err := d.computeForProject.Run(ctx, s); err != nil {
		return "", fmt.Errorf("failed to resolve compute for project: %w", err)
	}
	return s.ComputeID, nil
}
