// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package registry

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/db"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
)

// ListenerStatus updates provisioning status in the host platform's listener table
type ListenerStatus struct {
	db  *db.DB
	log logr.Logger
}

// NewListenerStatus creates a ListenerStatus on d
func NewListenerStatus(d *db.DB, log logr.Logger) *ListenerStatus {
	return &ListenerStatus{db: d, log: log}
}

// MarkListenerError sets a listener's provisioning status to ERROR
func (s *ListenerStatus) MarkListenerError(ctx context.Context, listenerID string) error {
	res, err := s.db.WithContext(ctx).Exec(
		`UPDATE listener SET provisioning_status = :status WHERE id = :id`,
		map[string]any{"status": model.StatusError, "id": listenerID})
	if err != nil {
		return fmt.Errorf("failed to mark listener %s as %s: %w", listenerID, model.StatusError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark listener %s as %s: %w", listenerID, model.StatusError, err)
	}
	if n == 0 {
		return fault.NotFound("listener %s", listenerID)
	}
	s.log.V(1).Info("marked listener provisioning status", "listener", listenerID, "status", model.StatusError)
	return nil
}
