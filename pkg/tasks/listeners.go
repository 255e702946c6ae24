// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package tasks

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/device"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/settings"
)

// listenerDeps is shared by the tasks that program virtual ports
type listenerDeps struct {
	Sessions device.Factory
	Settings Settings
	Certs    CertMaterializer
	Status   StatusMarker
	Log      logr.Logger
}

// virtualPort builds the device representation of l. TLS and persistence
// templates it references are created or updated on s first.
func (d *listenerDeps) virtualPort(ctx context.Context, s device.Session, lb *model.LoadBalancer, l *model.Listener, tun *settings.Listener) (device.VirtualPort, error) {
	p := device.VirtualPort{
		VirtualServer:       lb.ID,
		Name:                model.VirtualPortName(lb.ID, l.ProtocolPort),
		Protocol:            l.DeviceProtocol(),
		Port:                l.ProtocolPort,
		ServiceGroup:        l.DefaultPoolID,
		Enabled:             l.AdminStateUp,
		AutoSNAT:            tun.AutoSNAT,
		IPinIP:              tun.IPinIP,
		NoDestNAT:           tun.NoDestNAT,
		TemplateVirtualPort: tun.TemplateVirtualPort,
		TemplatePolicy:      tun.TemplatePolicy,
	}

	if p.Protocol == "http" {
		p.TemplateHTTP = tun.TemplateHTTP
	} else {
		p.TemplateTCP = tun.TemplateTCP
	}

	if tun.ConnLimit != nil {
		limit, clamped := settings.ClampConnLimit(*tun.ConnLimit)
		if clamped {
			d.Log.Info("conn_limit out of range, using maximum", "configured", *tun.ConnLimit,
				"min", settings.MinConnLimit, "max", settings.MaxConnLimit, "listener", l.ID)
		}
		p.ConnLimit = limit
	}

	if l.TerminatesTLS() {
		if d.Certs == nil {
			return p, fault.Validation("listener %s terminates TLS but no certificate source is configured", l.ID)
		}
		name, err := d.Certs.Materialize(ctx, lb, l, s)
		if err != nil {
			return p, err
		}
		p.TemplateClientSSL = name
	}

	if err := d.persistence(ctx, s, l, &p); err != nil {
		return p, err
	}

	return p, nil
}

// persistence creates the persist template for the default pool, if any
func (d *listenerDeps) persistence(ctx context.Context, s device.Session, l *model.Listener, p *device.VirtualPort) error {
	pool := l.DefaultPool
	if pool == nil || pool.SessionPersistence == nil {
		return nil
	}

	tpl := device.PersistTemplate{Name: pool.ID}
	switch pool.SessionPersistence.Type {
	case model.PersistenceSourceIP:
		tpl.Kind = device.PersistSourceIP
		p.PersistSourceIP = tpl.Name
	case model.PersistenceHTTPCookie, model.PersistenceAppCookie:
		tpl.Kind = device.PersistCookie
		tpl.CookieName = pool.SessionPersistence.CookieName
		p.PersistCookie = tpl.Name
	default:
		d.Log.Info("unsupported session persistence, ignoring", "type", pool.SessionPersistence.Type, "pool", pool.ID)
		return nil
	}

	if err := device.CreateOrUpdate(ctx, tpl, s.CreatePersistTemplate, s.UpdatePersistTemplate); err != nil {
		return fmt.Errorf("failed to configure %s persist template %s: %w", tpl.Kind, tpl.Name, err)
	}
	return nil
}

func (d *listenerDeps) markAll(ctx context.Context, s *State) error {
	if s.LoadBalancer == nil {
		return nil
	}
	d.Log.Info("marking listeners of load balancer as failed", "loadBalancer", s.LoadBalancer.ID, "count", len(s.LoadBalancer.Listeners))
	return markListeners(ctx, d.Status, d.Log, s.LoadBalancer.Listeners)
}

// CreateListeners programs a virtual port for every listener of the load
// balancer, in order. Its revert marks all of them as failed.
type CreateListeners struct {
	listenerDeps
}

// NewCreateListeners returns a CreateListeners task
func NewCreateListeners(sessions device.Factory, st Settings, certs CertMaterializer, status StatusMarker, log logr.Logger) *CreateListeners {
	return &CreateListeners{listenerDeps{Sessions: sessions, Settings: st, Certs: certs, Status: status, Log: log}}
}

func (t *CreateListeners) Name() string { return "create-listeners" }

func (t *CreateListeners) Execute(ctx context.Context, s *State) error {
	if err := requireLoadBalancer(s); err != nil {
		return err
	}
	if err := requireAppliance(s); err != nil {
		return err
	}
	if len(s.LoadBalancer.Listeners) == 0 {
		return nil
	}

	tun, err := t.Settings.ListenerSettings()
	if err != nil {
		return fmt.Errorf("failed to resolve listener settings: %w", err)
	}
	if tun.HAConnMirror {
		t.Log.V(1).Info("ha_conn_mirror is configured but not applied to virtual ports")
	}

	return withSession(ctx, t.Sessions, s.Appliance, t.Log, func(sess device.Session) error {
		for _, l := range s.LoadBalancer.Listeners {
			p, err := t.virtualPort(ctx, sess, s.LoadBalancer, l, tun)
			if err != nil {
				return fmt.Errorf("failed to prepare listener %s: %w", l.ID, err)
			}
			if err := device.CreateOrUpdate(ctx, p, sess.CreateVirtualPort, sess.UpdateVirtualPort); err != nil {
				return fmt.Errorf("failed to create virtual port %s: %w", p.Name, err)
			}
			t.Log.Info("created virtual port", "name", p.Name, "protocol", p.Protocol, "listener", l.ID)
		}
		return nil
	})
}

func (t *CreateListeners) Revert(ctx context.Context, s *State, _ error) error {
	return t.markAll(ctx, s)
}

// UpdateListeners reprograms the virtual ports of the given listeners. Its
// revert marks every listener of the load balancer as failed.
type UpdateListeners struct {
	listenerDeps
}

// NewUpdateListeners returns an UpdateListeners task
func NewUpdateListeners(sessions device.Factory, st Settings, certs CertMaterializer, status StatusMarker, log logr.Logger) *UpdateListeners {
	return &UpdateListeners{listenerDeps{Sessions: sessions, Settings: st, Certs: certs, Status: status, Log: log}}
}

func (t *UpdateListeners) Name() string { return "update-listeners" }

func (t *UpdateListeners) Execute(ctx context.Context, s *State) error {
	if err := requireLoadBalancer(s); err != nil {
		return err
	}
	if err := requireAppliance(s); err != nil {
		return err
	}
	if len(s.Listeners) == 0 {
		return nil
	}

	tun, err := t.Settings.ListenerSettings()
	if err != nil {
		return fmt.Errorf("failed to resolve listener settings: %w", err)
	}

	return withSession(ctx, t.Sessions, s.Appliance, t.Log, func(sess device.Session) error {
		for _, l := range s.Listeners {
			p, err := t.virtualPort(ctx, sess, s.LoadBalancer, l, tun)
			if err != nil {
				return fmt.Errorf("failed to prepare listener %s: %w", l.ID, err)
			}
			if err := sess.UpdateVirtualPort(ctx, p); err != nil {
				return fmt.Errorf("failed to update virtual port %s: %w", p.Name, err)
			}
			t.Log.Info("updated virtual port", "name", p.Name, "protocol", p.Protocol, "listener", l.ID)
		}
		return nil
	})
}

func (t *UpdateListeners) Revert(ctx context.Context, s *State, _ error) error {
	return t.markAll(ctx, s)
}

// DeleteListener removes the virtual port of State.Listener. A port that is
// already gone counts as deleted. Its revert marks only that listener.
type DeleteListener struct {
	listenerDeps
}

// NewDeleteListener returns a DeleteListener task
func NewDeleteListener(sessions device.Factory, status StatusMarker, log logr.Logger) *DeleteListener {
	return &DeleteListener{listenerDeps{Sessions: sessions, Status: status, Log: log}}
}

func (t *DeleteListener) Name() string { return "delete-listener" }

func (t *DeleteListener) Execute(ctx context.Context, s *State) error {
	if err := requireLoadBalancer(s); err != nil {
		return err
	}
	if s.Listener == nil {
		return fault.Validation("listener is required")
	}
	if err := requireAppliance(s); err != nil {
		return err
	}

	l := s.Listener
	name := model.VirtualPortName(s.LoadBalancer.ID, l.ProtocolPort)
	return withSession(ctx, t.Sessions, s.Appliance, t.Log, func(sess device.Session) error {
		err := sess.DeleteVirtualPort(ctx, s.LoadBalancer.ID, name, l.DeviceProtocol(), l.ProtocolPort)
		if fault.IsNotFound(err) {
			t.Log.Info("virtual port already absent", "name", name, "listener", l.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to delete virtual port %s: %w", name, err)
		}
		t.Log.Info("deleted virtual port", "name", name, "listener", l.ID)
		return nil
	})
}

func (t *DeleteListener) Revert(ctx context.Context, s *State, _ error) error {
	if s.Listener == nil {
		return nil
	}
	return markListeners(ctx, t.Status, t.Log, []*model.Listener{s.Listener})
}
