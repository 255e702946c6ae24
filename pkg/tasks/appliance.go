// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package tasks

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
)

// CreateApplianceEntry records a new appliance for the load balancer, backed
// by the amphora in State. Its revert deletes the record it created.
type CreateApplianceEntry struct {
	Store    ApplianceStore
	Settings Settings
	Log      logr.Logger
}

func (t *CreateApplianceEntry) Name() string { return "create-appliance-entry" }

func (t *CreateApplianceEntry) Execute(ctx context.Context, s *State) error {
	if err := requireLoadBalancer(s); err != nil {
		return err
	}
	if s.Amphora == nil {
		return fault.Validation("amphora is required to create an appliance entry")
	}

	defaults, err := t.Settings.ApplianceDefaults()
	if err != nil {
		return fmt.Errorf("failed to resolve appliance defaults: %w", err)
	}

	a, err := t.Store.Create(ctx, model.Appliance{
		AmphoraID:      model.StringPtr(s.Amphora.ID),
		IPAddress:      s.Amphora.LBNetworkIP,
		Username:       defaults.Username,
		Password:       defaults.Password,
		AXAPIVersion:   defaults.AXAPIVersion,
		Undercloud:     s.Amphora.ComputeID == "",
		LoadBalancerID: model.StringPtr(s.LoadBalancer.ID),
		ProjectID:      model.StringPtr(s.LoadBalancer.ProjectID),
		ComputeID:      model.StringPtr(s.Amphora.ComputeID),
	})
	if err != nil {
		return fmt.Errorf("failed to create appliance entry: %w", err)
	}

	s.Appliance = a
	s.createdApplianceID = a.ApplianceID
	t.Log.Info("created appliance entry", "appliance", a.ApplianceID, "loadBalancer", s.LoadBalancer.ID, "undercloud", a.Undercloud)
	return nil
}

func (t *CreateApplianceEntry) Revert(ctx context.Context, s *State, _ error) error {
	return revertCreated(ctx, t.Store, t.Log, s)
}

// revertCreated deletes the record created earlier in this run, if any
func revertCreated(ctx context.Context, store ApplianceStore, log logr.Logger, s *State) error {
	if s.createdApplianceID == "" {
		return nil
	}
	log.Info("reverting appliance entry", "appliance", s.createdApplianceID)
	if err := store.DeleteByApplianceID(ctx, s.createdApplianceID); err != nil {
		return fmt.Errorf("failed to delete appliance entry %s: %w", s.createdApplianceID, err)
	}
	s.createdApplianceID = ""
	s.Appliance = nil
	return nil
}

// DeleteApplianceEntry removes the load balancer's appliance record. A
// missing record is success.
type DeleteApplianceEntry struct {
	Store ApplianceStore
	Log   logr.Logger
}

func (t *DeleteApplianceEntry) Name() string { return "delete-appliance-entry" }

func (t *DeleteApplianceEntry) Execute(ctx context.Context, s *State) error {
	if err := requireLoadBalancer(s); err != nil {
		return err
	}
	if err := t.Store.Delete(ctx, s.LoadBalancer.ID); err != nil && !fault.IsNotFound(err) {
		return fmt.Errorf("failed to delete appliance entry: %w", err)
	}
	t.Log.Info("deleted appliance entry", "loadBalancer", s.LoadBalancer.ID)
	return nil
}

func (t *DeleteApplianceEntry) Revert(context.Context, *State, error) error {
	t.Log.Info("appliance entry deletion cannot be reverted")
	return nil
}

// ResolveApplianceForLoadBalancer looks up the appliance of State.LoadBalancer
type ResolveApplianceForLoadBalancer struct {
	Store ApplianceStore
}

func (t *ResolveApplianceForLoadBalancer) Name() string { return "resolve-appliance-for-load-balancer" }

func (t *ResolveApplianceForLoadBalancer) Execute(ctx context.Context, s *State) error {
	if err := requireLoadBalancer(s); err != nil {
		return err
	}
	a, err := t.Store.GetByLoadBalancer(ctx, s.LoadBalancer.ID)
	if err != nil {
		return err
	}
	s.Appliance = a
	return nil
}

func (t *ResolveApplianceForLoadBalancer) Revert(context.Context, *State, error) error { return nil }

// ResolveApplianceForLoadBalancerID looks up the appliance of State.LoadBalancerID
type ResolveApplianceForLoadBalancerID struct {
	Store ApplianceStore
}

func (t *ResolveApplianceForLoadBalancerID) Name() string {
	return "resolve-appliance-for-load-balancer-id"
}

func (t *ResolveApplianceForLoadBalancerID) Execute(ctx context.Context, s *State) error {
	if s.LoadBalancerID == "" {
		return fault.Validation("load balancer id is required")
	}
	a, err := t.Store.GetByLoadBalancer(ctx, s.LoadBalancerID)
	if err != nil {
		return err
	}
	s.Appliance = a
	return nil
}

func (t *ResolveApplianceForLoadBalancerID) Revert(context.Context, *State, error) error { return nil }

// ResolveComputeForProject finds the compute instance behind the project's
// appliance. Verifier is optional.
type ResolveComputeForProject struct {
	Store    ApplianceStore
	Verifier ComputeVerifier
	Log      logr.Logger
}

func (t *ResolveComputeForProject) Name() string { return "resolve-compute-for-project" }

func (t *ResolveComputeForProject) Execute(ctx context.Context, s *State) error {
	if s.LoadBalancer == nil || s.LoadBalancer.ProjectID == "" {
		return fault.Validation("load balancer project is required")
	}

	a, err := t.Store.GetByProject(ctx, s.LoadBalancer.ProjectID)
	if err != nil {
		return err
	}
	computeID, err := t.Store.ResolveCompute(ctx, a)
	if err != nil {
		return err
	}
	if computeID == "" {
		return fault.NotFound("no compute instance behind appliance %s of project %s", a.ApplianceID, s.LoadBalancer.ProjectID)
	}

	if t.Verifier != nil {
		if err := t.Verifier.VerifyCompute(ctx, computeID); err != nil {
			return fmt.Errorf("failed to verify compute instance %s: %w", computeID, err)
		}
	}

	s.Appliance = a
	s.ComputeID = computeID
	t.Log.V(1).Info("resolved compute for project", "project", s.LoadBalancer.ProjectID, "compute", computeID)
	return nil
}

func (t *ResolveComputeForProject) Revert(context.Context, *State, error) error { return nil }

// AllocateApplianceForLoadBalancer reuses the project's appliance unless the
// load balancer asks for anti-affinity placement. It never creates one.
type AllocateApplianceForLoadBalancer struct {
	Store ApplianceStore
	Log   logr.Logger
}

func (t *AllocateApplianceForLoadBalancer) Name() string {
	return "allocate-appliance-for-load-balancer"
}

func (t *AllocateApplianceForLoadBalancer) Execute(ctx context.Context, s *State) error {
	if err := requireLoadBalancer(s); err != nil {
		return err
	}
	s.AllocatedApplianceID = ""

	if s.ServerGroupID != "" {
		t.Log.V(1).Info("load balancer uses anti-affinity, skipping allocation", "loadBalancer", s.LoadBalancer.ID)
		return nil
	}

	a, err := t.Store.GetByProject(ctx, s.LoadBalancer.ProjectID)
	if fault.IsNotFound(err) {
		t.Log.V(1).Info("no appliance available for load balancer", "loadBalancer", s.LoadBalancer.ID)
		return nil
	}
	if err != nil {
		return err
	}

	s.AllocatedApplianceID = a.ApplianceID
	s.Appliance = a
	return nil
}

func (t *AllocateApplianceForLoadBalancer) Revert(_ context.Context, s *State, _ error) error {
	s.AllocatedApplianceID = ""
	return nil
}

// LinkApplianceEntry records the load balancer on the appliance chosen by
// AllocateApplianceForLoadBalancer, so later lookups by load balancer find
// the shared device. Its revert deletes the record it created.
type LinkApplianceEntry struct {
	Store ApplianceStore
	Log   logr.Logger
}

func (t *LinkApplianceEntry) Name() string { return "link-appliance-entry" }

func (t *LinkApplianceEntry) Execute(ctx context.Context, s *State) error {
	if err := requireLoadBalancer(s); err != nil {
		return err
	}
	if s.AllocatedApplianceID == "" || s.Appliance == nil {
		return fault.Validation("no appliance allocated for load balancer %s", s.LoadBalancer.ID)
	}

	shared := s.Appliance
	a, err := t.Store.Create(ctx, model.Appliance{
		AmphoraID:      shared.AmphoraID,
		DeviceName:     shared.DeviceName,
		IPAddress:      shared.IPAddress,
		Username:       shared.Username,
		Password:       shared.Password,
		AXAPIVersion:   shared.AXAPIVersion,
		Undercloud:     shared.Undercloud,
		LoadBalancerID: model.StringPtr(s.LoadBalancer.ID),
		ProjectID:      model.StringPtr(s.LoadBalancer.ProjectID),
		ComputeID:      shared.ComputeID,
	})
	if err != nil {
		return fmt.Errorf("failed to link appliance %s: %w", shared.ApplianceID, err)
	}

	s.Appliance = a
	s.createdApplianceID = a.ApplianceID
	t.Log.Info("linked load balancer to shared appliance", "appliance", a.ApplianceID,
		"device", a.DeviceName, "loadBalancer", s.LoadBalancer.ID)
	return nil
}

func (t *LinkApplianceEntry) Revert(ctx context.Context, s *State, _ error) error {
	return revertCreated(ctx, t.Store, t.Log, s)
}
