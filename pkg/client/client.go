// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/config"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
)

// Client wraps gophercloud service clients for the OpenStack services the driver uses
type Client struct {
	Config *config.Config

	// OpenStack service clients
	ComputeClient    *gophercloud.ServiceClient // Nova - amphora compute instances
	KeyManagerClient *gophercloud.ServiceClient // Barbican - TLS certificate containers

	// Provider client (for token refresh, etc.)
	provider *gophercloud.ProviderClient
}

// NewClient creates a new OpenStack client with authenticated service clients
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	// Authenticate and get provider client
	provider, err := cfg.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	// Create compute service client (Nova)
	computeClient, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client: %w", err)
	}

	// Create key manager service client (Barbican)
	keyManagerClient, err := openstack.NewKeyManagerV1(provider, gophercloud.EndpointOpts{
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create key manager client: %w", err)
	}

	return &Client{
		Config:           cfg,
		ComputeClient:    computeClient,
		KeyManagerClient: keyManagerClient,
		provider:         provider,
	}, nil
}

// VerifyCompute checks that a compute instance still exists
func (c *Client) VerifyCompute(ctx context.Context, computeID string) error {
	server, err := servers.Get(ctx, c.ComputeClient, computeID).Extract()
	if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
		return fault.NotFound("compute instance %s", computeID)
	}
	if err != nil {
		return fmt.Errorf("failed to get compute instance %s: %w", computeID, err)
	}
	if server.Status == "DELETED" || server.Status == "SOFT_DELETED" {
		return fault.NotFound("compute instance %s is %s", computeID, server.Status)
	}
	return nil
}
