// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/db"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/registry"
)

var (
	// OpenStack configuration for integration tests - read from environment variables
	AuthURL   = os.Getenv("OS_AUTH_URL")
	Username  = os.Getenv("OS_USERNAME")
	Password  = os.Getenv("OS_PASSWORD")
	ProjectID = os.Getenv("OS_PROJECT_ID")
	Region    = getEnvOrDefault("OS_REGION_NAME", "RegionOne")

	// TestContainerRef is a Barbican certificate container readable by the test project
	TestContainerRef = os.Getenv("VTHUNDER_TEST_CONTAINER_REF")
)

// getEnvOrDefault returns the environment variable value or the default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsOpenStackConfigured returns true if the keystone environment variables are set
func IsOpenStackConfigured() bool {
	return AuthURL != "" && Username != "" && Password != "" && ProjectID != ""
}

// SkipIfOpenStackNotConfigured skips the test if keystone credentials are not set
func SkipIfOpenStackNotConfigured(t interface{ Skip(...any) }) {
	if !IsOpenStackConfigured() {
		t.Skip("Skipping test: OpenStack credentials not configured. Set OS_AUTH_URL, OS_USERNAME, OS_PASSWORD and OS_PROJECT_ID environment variables.")
	}
}

// Tables owned by the host platform. The driver reads amphora and updates
// listener status; tests create minimal versions of both.
const hostSchema = `
CREATE TABLE IF NOT EXISTS amphora (
	id VARCHAR(36) PRIMARY KEY,
	compute_id VARCHAR(36),
	status VARCHAR(36),
	load_balancer_id VARCHAR(36),
	lb_network_ip VARCHAR(64)
);
CREATE TABLE IF NOT EXISTS listener (
	id VARCHAR(36) PRIMARY KEY,
	load_balancer_id VARCHAR(36),
	protocol VARCHAR(16),
	protocol_port INTEGER,
	provisioning_status VARCHAR(16)
);
`

// RegistryEnv is a migrated sqlite database with the appliance registry and
// the host tables it reads
type RegistryEnv struct {
	DB       *db.DB
	Registry *registry.Registry
	Status   *registry.ListenerStatus
}

// NewRegistryEnv creates a fresh database in the test's temp dir
func NewRegistryEnv(t *testing.T) *RegistryEnv {
	t.Helper()

	d, err := db.NewSqliteDB(filepath.Join(t.TempDir(), "registry.db"), logr.Discard())
	require.NoError(t, err)
	t.Cleanup(d.Close)

	reg := registry.New(d, logr.Discard())
	require.NoError(t, d.Migrate(context.Background()))

	_, err = d.Exec(hostSchema)
	require.NoError(t, err)

	return &RegistryEnv{DB: d, Registry: reg, Status: registry.NewListenerStatus(d, logr.Discard())}
}

// AddAmphora inserts a host amphora row
func (e *RegistryEnv) AddAmphora(t *testing.T, a model.Amphora) {
	t.Helper()
	_, err := e.DB.Exec(
		`INSERT INTO amphora (id, compute_id, status, load_balancer_id, lb_network_ip) VALUES (:id, :compute, :status, :lb, :ip)`,
		map[string]any{
			"id":      a.ID,
			"compute": model.StringPtr(a.ComputeID),
			"status":  a.Status,
			"lb":      model.StringPtr(a.LoadBalancerID),
			"ip":      a.LBNetworkIP,
		})
	require.NoError(t, err)
}

// AddListeners inserts host listener rows with their current status
func (e *RegistryEnv) AddListeners(t *testing.T, listeners ...*model.Listener) {
	t.Helper()
	for _, l := range listeners {
		status := l.ProvisioningStatus
		if status == "" {
			status = model.StatusPendingCreate
		}
		_, err := e.DB.Exec(
			`INSERT INTO listener (id, load_balancer_id, protocol, protocol_port, provisioning_status) VALUES (:id, :lb, :protocol, :port, :status)`,
			map[string]any{"id": l.ID, "lb": l.LoadBalancerID, "protocol": l.Protocol, "port": l.ProtocolPort, "status": status})
		require.NoError(t, err)
	}
}

// ListenerStatus returns the provisioning status stored for a listener
func (e *RegistryEnv) ListenerStatus(t *testing.T, listenerID string) string {
	t.Helper()
	status, err := e.DB.SelectStr(`SELECT provisioning_status FROM listener WHERE id = :id`, map[string]any{"id": listenerID})
	require.NoError(t, err)
	return status
}

// Appliance returns a valid appliance record for a load balancer
func Appliance(loadBalancerID, projectID string) model.Appliance {
	return model.Appliance{
		IPAddress:      "10.0.0.10",
		Username:       FakeDeviceUsername,
		Password:       FakeDevicePassword,
		AXAPIVersion:   model.DefaultAXAPIVersion,
		Undercloud:     true,
		LoadBalancerID: model.StringPtr(loadBalancerID),
		ProjectID:      model.StringPtr(projectID),
	}
}

// LoadBalancer returns a load balancer owning the given listeners, with the
// listeners' parent reference filled in
func LoadBalancer(id, projectID string, listeners ...*model.Listener) *model.LoadBalancer {
	for _, l := range listeners {
		l.LoadBalancerID = id
	}
	return &model.LoadBalancer{ID: id, ProjectID: projectID, Listeners: listeners}
}

// Listener returns an enabled listener with a default pool named after it
func Listener(id, protocol string, port int) *model.Listener {
	return &model.Listener{
		ID:            id,
		Protocol:      protocol,
		ProtocolPort:  port,
		DefaultPoolID: "pool-" + id,
		DefaultPool:   &model.Pool{ID: "pool-" + id, Protocol: protocol, LBAlgorithm: "ROUND_ROBIN"},
		AdminStateUp:  true,
	}
}
