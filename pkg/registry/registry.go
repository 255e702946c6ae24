// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package registry maps load balancers to the vThunder appliances serving them.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-gorp/gorp"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/db"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
)

// applianceRow is the persisted form of model.Appliance
type applianceRow struct {
	ID             int64   `db:"id"`
	ApplianceID    string  `db:"appliance_id"`
	AmphoraID      *string `db:"amphora_id"`
	DeviceName     string  `db:"device_name"`
	IPAddress      string  `db:"ip_address"`
	Username       string  `db:"username"`
	Password       string  `db:"password"`
	AXAPIVersion   int     `db:"axapi_version"`
	Undercloud     bool    `db:"undercloud"`
	LoadBalancerID *string `db:"loadbalancer_id"`
	ProjectID      *string `db:"project_id"`
	ComputeID      *string `db:"compute_id"`
}

func (applianceRow) TableName() string { return "appliances" }

func (r *applianceRow) toModel() *model.Appliance {
	return &model.Appliance{
		ID:             r.ID,
		ApplianceID:    r.ApplianceID,
		AmphoraID:      r.AmphoraID,
		DeviceName:     r.DeviceName,
		IPAddress:      r.IPAddress,
		Username:       r.Username,
		Password:       r.Password,
		AXAPIVersion:   r.AXAPIVersion,
		Undercloud:     r.Undercloud,
		LoadBalancerID: r.LoadBalancerID,
		ProjectID:      r.ProjectID,
		ComputeID:      r.ComputeID,
	}
}

func fromModel(a *model.Appliance) *applianceRow {
	return &applianceRow{
		ID:             a.ID,
		ApplianceID:    a.ApplianceID,
		AmphoraID:      a.AmphoraID,
		DeviceName:     a.DeviceName,
		IPAddress:      a.IPAddress,
		Username:       a.Username,
		Password:       a.Password,
		AXAPIVersion:   a.AXAPIVersion,
		Undercloud:     a.Undercloud,
		LoadBalancerID: a.LoadBalancerID,
		ProjectID:      a.ProjectID,
		ComputeID:      a.ComputeID,
	}
}

// amphoraRow is read from the host platform's amphora table
type amphoraRow struct {
	ID             string  `db:"id"`
	ComputeID      *string `db:"compute_id"`
	LBNetworkIP    *string `db:"lb_network_ip"`
	LoadBalancerID *string `db:"load_balancer_id"`
	Status         *string `db:"status"`
}

// Registry stores appliance records. It is safe for concurrent use.
type Registry struct {
	db  *db.DB
	log logr.Logger
}

// New creates a Registry and maps the appliances table on d. Call
// d.Migrate afterwards to create missing tables.
func New(d *db.DB, log logr.Logger) *Registry {
	t := d.AddTable(applianceRow{})
	t.SetKeys(true, "ID")
	t.ColMap("ApplianceID").SetMaxSize(36).SetNotNull(true).SetUnique(true)
	t.ColMap("AmphoraID").SetMaxSize(36)
	t.ColMap("DeviceName").SetMaxSize(1024).SetNotNull(true)
	t.ColMap("IPAddress").SetMaxSize(64).SetNotNull(true)
	t.ColMap("Username").SetMaxSize(1024).SetNotNull(true)
	t.ColMap("Password").SetMaxSize(50).SetNotNull(true)
	t.ColMap("AXAPIVersion").SetNotNull(true)
	t.ColMap("Undercloud").SetNotNull(true)
	// One appliance per load balancer; NULLs do not collide
	t.ColMap("LoadBalancerID").SetMaxSize(36).SetUnique(true)
	t.ColMap("ProjectID").SetMaxSize(36)
	t.ColMap("ComputeID").SetMaxSize(36)

	return &Registry{db: d, log: log}
}

// GetByLoadBalancer returns the appliance assigned to a load balancer
func (r *Registry) GetByLoadBalancer(ctx context.Context, loadBalancerID string) (*model.Appliance, error) {
	var row applianceRow
	err := r.db.WithContext(ctx).SelectOne(&row,
		`SELECT * FROM appliances WHERE loadbalancer_id = :lb`,
		map[string]any{"lb": loadBalancerID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFound("no appliance for load balancer %s", loadBalancerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appliance for load balancer %s: %w", loadBalancerID, err)
	}
	return row.toModel(), nil
}

// GetByProject returns the most recently created appliance of a project
func (r *Registry) GetByProject(ctx context.Context, projectID string) (*model.Appliance, error) {
	exec := r.db.WithContext(ctx)

	count, err := exec.SelectInt(`SELECT COUNT(*) FROM appliances WHERE project_id = :project`,
		map[string]any{"project": projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to count appliances for project %s: %w", projectID, err)
	}
	if count == 0 {
		return nil, fault.NotFound("no appliance for project %s", projectID)
	}
	if count > 1 {
		r.log.Info("project owns several appliances, using the most recent one", "project", projectID, "count", count)
	}

	var row applianceRow
	err = exec.SelectOne(&row,
		`SELECT * FROM appliances WHERE project_id = :project ORDER BY id DESC LIMIT 1`,
		map[string]any{"project": projectID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFound("no appliance for project %s", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appliance for project %s: %w", projectID, err)
	}
	return row.toModel(), nil
}

// List returns every appliance ordered by creation
func (r *Registry) List(ctx context.Context) ([]model.Appliance, error) {
	var rows []applianceRow
	if _, err := r.db.WithContext(ctx).Select(&rows, `SELECT * FROM appliances ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list appliances: %w", err)
	}
	out := make([]model.Appliance, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toModel())
	}
	return out, nil
}

// Create stores a new appliance. ApplianceID is generated when empty and the
// device name defaults to it. A second record for the same load balancer is a
// conflict.
func (r *Registry) Create(ctx context.Context, a model.Appliance) (*model.Appliance, error) {
	if a.ApplianceID == "" {
		a.ApplianceID = uuid.NewString()
	}
	if a.DeviceName == "" {
		a.DeviceName = a.ApplianceID
	}
	if a.AXAPIVersion == 0 {
		a.AXAPIVersion = model.DefaultAXAPIVersion
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	row, err := r.insert(ctx, tx, &a)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fault.Conflict("appliance for load balancer %s", model.StringValue(a.LoadBalancerID))
		}
		return nil, fmt.Errorf("failed to commit appliance: %w", err)
	}

	r.log.Info("created appliance entry", "appliance", row.ApplianceID,
		"loadBalancer", model.StringValue(row.LoadBalancerID), "project", model.StringValue(row.ProjectID))
	return row.toModel(), nil
}

func (r *Registry) insert(ctx context.Context, tx *gorp.Transaction, a *model.Appliance) (*applianceRow, error) {
	exec := tx.WithContext(ctx)

	if a.LoadBalancerID != nil {
		n, err := exec.SelectInt(`SELECT COUNT(*) FROM appliances WHERE loadbalancer_id = :lb`,
			map[string]any{"lb": *a.LoadBalancerID})
		if err != nil {
			return nil, fmt.Errorf("failed to check existing appliance: %w", err)
		}
		if n > 0 {
			return nil, fault.Conflict("appliance for load balancer %s", *a.LoadBalancerID)
		}
	}

	row := fromModel(a)
	row.ID = 0
	if err := exec.Insert(row); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fault.Conflict("appliance for load balancer %s", model.StringValue(a.LoadBalancerID))
		}
		return nil, fmt.Errorf("failed to insert appliance: %w", err)
	}
	return row, nil
}

// Delete removes the appliance of a load balancer. A missing record is not an error.
func (r *Registry) Delete(ctx context.Context, loadBalancerID string) error {
	n, err := r.exec(ctx, `DELETE FROM appliances WHERE loadbalancer_id = :lb`, map[string]any{"lb": loadBalancerID})
	if err != nil {
		return fmt.Errorf("failed to delete appliance for load balancer %s: %w", loadBalancerID, err)
	}
	if n == 0 {
		r.log.V(1).Info("no appliance entry to delete", "loadBalancer", loadBalancerID)
	}
	return nil
}

// DeleteByApplianceID removes one appliance record. A missing record is not an error.
func (r *Registry) DeleteByApplianceID(ctx context.Context, applianceID string) error {
	if _, err := r.exec(ctx, `DELETE FROM appliances WHERE appliance_id = :id`, map[string]any{"id": applianceID}); err != nil {
		return fmt.Errorf("failed to delete appliance %s: %w", applianceID, err)
	}
	return nil
}

// GetAmphora reads an amphora row of the host platform
func (r *Registry) GetAmphora(ctx context.Context, amphoraID string) (*model.Amphora, error) {
	var row amphoraRow
	err := r.db.WithContext(ctx).SelectOne(&row,
		`SELECT id, compute_id, lb_network_ip, load_balancer_id, status FROM amphora WHERE id = :id`,
		map[string]any{"id": amphoraID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFound("amphora %s", amphoraID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get amphora %s: %w", amphoraID, err)
	}
	return &model.Amphora{
		ID:             row.ID,
		ComputeID:      model.StringValue(row.ComputeID),
		LBNetworkIP:    model.StringValue(row.LBNetworkIP),
		LoadBalancerID: model.StringValue(row.LoadBalancerID),
		Status:         model.StringValue(row.Status),
	}, nil
}

// ResolveCompute returns the compute instance behind an appliance. The result
// is empty when the appliance has no amphora or the amphora has no compute id.
func (r *Registry) ResolveCompute(ctx context.Context, a *model.Appliance) (string, error) {
	if a == nil || a.AmphoraID == nil || *a.AmphoraID == "" {
		return "", nil
	}
	amp, err := r.GetAmphora(ctx, *a.AmphoraID)
	if err != nil {
		return "", err
	}
	return amp.ComputeID, nil
}

func (r *Registry) exec(ctx context.Context, query string, args map[string]any) (int64, error) {
	res, err := r.db.WithContext(ctx).Exec(query, args)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
