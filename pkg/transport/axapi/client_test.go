// pkg/transport/axapi/client_test.go
package axapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/testutil"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/transport/axapi"
)

func newClient(t *testing.T, dev *testutil.FakeDevice, password string) *axapi.Client {
	t.Helper()
	c, err := axapi.NewClient(&axapi.Config{
		Host:       dev.Host(),
		Port:       dev.Port(),
		Username:   testutil.FakeDeviceUsername,
		Password:   password,
		HTTPClient: dev.HTTPClient(),
	})
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *axapi.Config
		wantErr bool
	}{
		{"nil config", nil, true},
		{"missing host", &axapi.Config{Username: "u", Password: "p"}, true},
		{"missing credentials", &axapi.Config{Host: "10.0.0.1"}, true},
		{"valid", &axapi.Config{Host: "10.0.0.1", Username: "u", Password: "p"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := axapi.NewClient(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_AuthenticateAndDo(t *testing.T) {
	dev := testutil.NewFakeDevice(t)
	c := newClient(t, dev, testutil.FakeDevicePassword)
	ctx := context.Background()

	require.NoError(t, c.Authenticate(ctx))

	resp, err := c.Do(ctx, axapi.RequestOptions{
		Method: http.MethodPost,
		Path:   "/slb/template/persist/source-ip",
		Body:   map[string]interface{}{"source-ip": map[string]interface{}{"name": "pool-1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	calls := dev.RequestsTo(http.MethodPost, "/slb/template/persist/source-ip")
	require.Len(t, calls, 1)
	assert.Equal(t, "A10 0123456789abcdef", calls[0].Authorization)

	require.NoError(t, c.Logoff(ctx))
	assert.Equal(t, 1, dev.Logoffs())

	// Logoff is idempotent once the signature is gone
	require.NoError(t, c.Logoff(ctx))
	assert.Equal(t, 1, dev.Logoffs())
}

func TestClient_AuthenticateRejected(t *testing.T) {
	dev := testutil.NewFakeDevice(t)
	c := newClient(t, dev, "wrong")

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrDeviceCommunication)
}

func TestClient_DoRequiresAuthentication(t *testing.T) {
	dev := testutil.NewFakeDevice(t)
	c := newClient(t, dev, testutil.FakeDevicePassword)

	_, err := c.Do(context.Background(), axapi.RequestOptions{Method: http.MethodGet, Path: "/slb/virtual-server"})
	require.Error(t, err)
	assert.Empty(t, dev.Requests())
}

func TestClient_DoUnsupportedMethod(t *testing.T) {
	dev := testutil.NewFakeDevice(t)
	c := newClient(t, dev, testutil.FakeDevicePassword)

	_, err := c.Do(context.Background(), axapi.RequestOptions{Method: "PATCH", Path: "/slb"})
	assert.EqualError(t, err, "unsupported method: PATCH")
}

func TestClient_ErrorClassification(t *testing.T) {
	dev := testutil.NewFakeDevice(t)
	c := newClient(t, dev, testutil.FakeDevicePassword)
	ctx := context.Background()
	require.NoError(t, c.Authenticate(ctx))

	body := map[string]interface{}{"client-ssl": map[string]interface{}{"name": "tpl"}}
	_, err := c.Do(ctx, axapi.RequestOptions{Method: http.MethodPost, Path: "/slb/template/client-ssl", Body: body})
	require.NoError(t, err)

	_, err = c.Do(ctx, axapi.RequestOptions{Method: http.MethodPost, Path: "/slb/template/client-ssl", Body: body})
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrConflict)

	var tErr *axapi.Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, axapi.ErrorCodeAlreadyExists, tErr.Code)
	assert.Equal(t, http.StatusBadRequest, tErr.HTTPCode)

	_, err = c.Do(ctx, axapi.RequestOptions{Method: http.MethodDelete, Path: "/slb/template/client-ssl/missing"})
	assert.ErrorIs(t, err, fault.ErrNotFound)

	dev.FailOn(http.MethodGet, "/slb/template/client-ssl/tpl", http.StatusServiceUnavailable, "busy", 1)
	_, err = c.Do(ctx, axapi.RequestOptions{Method: http.MethodGet, Path: "/slb/template/client-ssl/tpl"})
	assert.ErrorIs(t, err, fault.ErrDeviceCommunication)

	resp, err := c.Do(ctx, axapi.RequestOptions{Method: http.MethodGet, Path: "/slb/template/client-ssl/tpl"})
	require.NoError(t, err)
	assert.Equal(t, "tpl", resp.Body["name"])
}

func TestClient_Upload(t *testing.T) {
	dev := testutil.NewFakeDevice(t)
	c := newClient(t, dev, testutil.FakeDevicePassword)
	ctx := context.Background()
	require.NoError(t, c.Authenticate(ctx))

	_, err := c.Upload(ctx, axapi.UploadOptions{
		Path:     "/file/ssl-cert",
		FileName: "server.pem",
		Content:  []byte("-----BEGIN CERTIFICATE-----"),
		Metadata: map[string]interface{}{
			"ssl-cert": map[string]interface{}{"file": "server.pem", "action": "import"},
		},
	})
	require.NoError(t, err)

	calls := dev.RequestsTo(http.MethodPost, "/file/ssl-cert")
	require.Len(t, calls, 1)
	assert.Equal(t, "server.pem", calls[0].FileName)
	assert.Equal(t, "-----BEGIN CERTIFICATE-----", calls[0].FileContent)

	_, ok := dev.Object("/file/ssl-cert/server.pem")
	assert.True(t, ok)
}
