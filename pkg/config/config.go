// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package config

import (
	"context"
	"fmt"
	"os"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"gopkg.in/yaml.v3"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/db"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/device"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/retry"
)

// DefaultPath is where the service config is read from when no path is given
const DefaultPath = "/etc/vthunder-driver/config.yaml"

// Config holds the driver service configuration.
// Note: only non-sensitive values are read from the file. Credentials
// (Username, Password, ProjectID, DomainName, database password) are always
// read from environment variables.
type Config struct {
	// Stored in the config file (non-sensitive)
	AuthURL string `yaml:"authURL"`
	Region  string `yaml:"region"`

	Database db.Config     `yaml:"database"`
	Device   device.Config `yaml:"device"`
	Retry    retry.Policy  `yaml:"retry"`

	// Tunables lists INI files, later files overriding earlier ones
	Tunables []string `yaml:"tunables"`

	// Read from environment variables only (never stored)
	Username   string `yaml:"-"` // From OS_USERNAME
	Password   string `yaml:"-"` // From OS_PASSWORD
	ProjectID  string `yaml:"-"` // From OS_PROJECT_ID
	DomainName string `yaml:"-"` // From OS_USER_DOMAIN_NAME
}

// Load reads the config file at path and applies environment overrides.
// A missing file at DefaultPath is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case os.IsNotExist(err) && !explicit:
		data = nil
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML and the environment
func Parse(data []byte) (*Config, error) {
	cfg := Config{Retry: retry.DefaultPolicy()}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// AuthURL and Region can fall back to environment variables
	if cfg.AuthURL == "" {
		cfg.AuthURL = os.Getenv("OS_AUTH_URL")
	}
	if cfg.Region == "" {
		cfg.Region = os.Getenv("OS_REGION_NAME")
	}

	// Credentials are ALWAYS read from environment variables (never stored)
	cfg.Username = os.Getenv("OS_USERNAME")
	cfg.Password = os.Getenv("OS_PASSWORD")
	cfg.ProjectID = os.Getenv("OS_PROJECT_ID")
	cfg.DomainName = os.Getenv("OS_USER_DOMAIN_NAME")
	if cfg.DomainName == "" {
		cfg.DomainName = "Default"
	}
	cfg.Database.Password = os.Getenv("VTHUNDER_DB_PASSWORD")

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if cfg.Device.Timeout == 0 {
		cfg.Device.Timeout = cfg.Retry.Timeout
	}

	return &cfg, nil
}

// OpenStackConfigured reports whether keystone credentials are available
func (c *Config) OpenStackConfigured() bool {
	return c.AuthURL != "" && c.Username != "" && c.Password != "" && c.ProjectID != ""
}

// ValidateOpenStack checks the values needed to reach keystone
func (c *Config) ValidateOpenStack() error {
	if c.AuthURL == "" {
		return fmt.Errorf("authURL is required (set OS_AUTH_URL or provide in config file)")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required (set OS_REGION_NAME or provide in config file)")
	}
	if c.Username == "" {
		return fmt.Errorf("OS_USERNAME environment variable is required")
	}
	if c.Password == "" {
		return fmt.Errorf("OS_PASSWORD environment variable is required")
	}
	if c.ProjectID == "" {
		return fmt.Errorf("OS_PROJECT_ID environment variable is required")
	}
	return nil
}

// ToAuthOptions converts Config to gophercloud AuthOptions
func (c *Config) ToAuthOptions() gophercloud.AuthOptions {
	return gophercloud.AuthOptions{
		IdentityEndpoint: c.AuthURL,
		Username:         c.Username,
		Password:         c.Password,
		TenantID:         c.ProjectID,
		DomainName:       c.DomainName,
		AllowReauth:      true,
	}
}

// Authenticate creates an authenticated OpenStack provider client
func (c *Config) Authenticate(ctx context.Context) (*gophercloud.ProviderClient, error) {
	if err := c.ValidateOpenStack(); err != nil {
		return nil, err
	}

	opts := c.ToAuthOptions()
	provider, err := openstack.NewClient(opts.IdentityEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenStack client: %w", err)
	}

	if err := openstack.Authenticate(ctx, provider, opts); err != nil {
		return nil, fmt.Errorf("failed to authenticate with OpenStack: %w", err)
	}
	return provider, nil
}
