// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package cli

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/certs"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/client"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/config"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/db"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/device"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/driver"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/flow"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/registry"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/retry"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/settings"
)

// Runtime holds the opened dependencies of a command
type Runtime struct {
	Config   *config.Config
	DB       *db.DB
	Registry *registry.Registry
	Status   *registry.ListenerStatus
	Log      logr.Logger
}

// Open loads the config and opens the registry database
func Open(ctx context.Context, opts *Options) (*Runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d, err := db.Open(ctx, cfg.Database, opts.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Runtime{
		Config:   cfg,
		DB:       d,
		Registry: registry.New(d, opts.Log),
		Status:   registry.NewListenerStatus(d, opts.Log),
		Log:      opts.Log,
	}, nil
}

// Close releases the database
func (r *Runtime) Close() {
	r.DB.Close()
}

// Driver wires a Driver from the runtime. OpenStack services are used when
// credentials are present: Barbican for TLS listeners and Nova to verify
// compute instances.
func (r *Runtime) Driver(ctx context.Context, reg prometheus.Registerer) (*driver.Driver, error) {
	tunables := make([]interface{}, 0, len(r.Config.Tunables))
	for _, path := range r.Config.Tunables {
		tunables = append(tunables, path)
	}
	st, err := settings.Load(tunables...)
	if err != nil {
		return nil, err
	}

	metrics, err := flow.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	retrier := retry.New(r.Config.Retry, r.Log.WithName("retry"))
	opts := driver.Options{
		Store:    r.Registry,
		Settings: st,
		Sessions: device.NewAXAPIFactory(r.Config.Device, retrier, r.Log.WithName("device")),
		Status:   r.Status,
		Metrics:  metrics,
		Log:      r.Log.WithName("driver"),
	}

	if r.Config.OpenStackConfigured() {
		osc, err := client.NewClient(ctx, r.Config)
		if err != nil {
			return nil, err
		}
		store := certs.NewBarbicanStore(osc.KeyManagerClient, retrier, r.Log.WithName("barbican"))
		opts.Certs = certs.NewMaterializer(store, r.Log.WithName("certs"))
		opts.Verifier = osc
	} else {
		r.Log.Info("OpenStack credentials not set, TLS listeners and compute verification are unavailable")
	}

	return driver.New(opts)
}
