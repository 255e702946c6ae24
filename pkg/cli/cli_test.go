// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/db"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/registry"
)

func clearOpenStackEnv(t *testing.T) {
	for _, k := range []string{"OS_AUTH_URL", "OS_REGION_NAME", "OS_USERNAME", "OS_PASSWORD", "OS_PROJECT_ID", "VTHUNDER_DB_PASSWORD"} {
		t.Setenv(k, "")
	}
}

// writeConfig points the CLI at a sqlite database in the test's temp dir
func writeConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "registry.db")
	configPath = filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("database:\n  driver: sqlite3\n  path: %s\n", dbPath)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	return configPath, dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := Root("1.2.3", logr.Discard())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, dbPath string, a model.Appliance) *model.Appliance {
	t.Helper()
	d, err := db.NewSqliteDB(dbPath, logr.Discard())
	require.NoError(t, err)
	defer d.Close()

	created, err := registry.New(d, logr.Discard()).Create(context.Background(), a)
	require.NoError(t, err)
	return created
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)
}

func TestApplianceCommands(t *testing.T) {
	clearOpenStackEnv(t)
	configPath, dbPath := writeConfig(t)

	out, err := run(t, "--config", configPath, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")

	// migrations are idempotent
	_, err = run(t, "--config", configPath, "migrate")
	require.NoError(t, err)

	a := seed(t, dbPath, model.Appliance{
		IPAddress:      "10.0.0.10",
		Username:       "admin",
		Password:       "a10",
		LoadBalancerID: model.StringPtr("LB1"),
		ProjectID:      model.StringPtr("P1"),
	})

	out, err = run(t, "--config", configPath, "appliance", "get", "--loadbalancer", "LB1")
	require.NoError(t, err)
	assert.Contains(t, out, "applianceID: "+a.ApplianceID)
	assert.Contains(t, out, "ipAddress: 10.0.0.10")
	assert.NotContains(t, out, "password")

	out, err = run(t, "--config", configPath, "appliance", "get", "--project", "P1")
	require.NoError(t, err)
	assert.Contains(t, out, "loadBalancerID: LB1")

	_, err = run(t, "--config", configPath, "appliance", "get")
	assert.ErrorContains(t, err, "exactly one of")

	out, err = run(t, "--config", configPath, "appliance", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "- applianceID: "+a.ApplianceID)

	out, err = run(t, "--config", configPath, "appliance", "delete", "--loadbalancer", "LB1")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted appliance entry of load balancer LB1")

	_, err = run(t, "--config", configPath, "appliance", "get", "--loadbalancer", "LB1")
	assert.Error(t, err)
}

func TestCompute_NoAppliance(t *testing.T) {
	clearOpenStackEnv(t)
	configPath, _ := writeConfig(t)

	_, err := run(t, "--config", configPath, "migrate")
	require.NoError(t, err)

	_, err = run(t, "--config", configPath, "compute", "--project", "P1")
	assert.ErrorContains(t, err, "not found")
}

func TestTunablesCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a10.conf")
	require.NoError(t, os.WriteFile(path, []byte(`
DEFAULT_VTHUNDER_USERNAME = "admin"
DEFAULT_VTHUNDER_PASSWORD = "a10"

[LISTENER]
conn_limit = 0
template_http = "http-default"
`), 0o600))

	out, err := run(t, "tunables", "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "effectiveConnLimit: 8000000")
	assert.Contains(t, out, "templatehttp: http-default")
	assert.Contains(t, out, "axapiVersion: 30")
	assert.NotContains(t, out, "password")
}

func TestTunablesCheck_InvalidBool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a10.conf")
	require.NoError(t, os.WriteFile(path, []byte("[LISTENER]\nipinip = maybe\n"), 0o600))

	_, err := run(t, "tunables", "check", path)
	assert.ErrorContains(t, err, "must be true or false")
}
