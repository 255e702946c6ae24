// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package registry_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/testutil"
)

func TestCreate_GeneratesIdentity(t *testing.T) {
	env := testutil.NewRegistryEnv(t)
	ctx := context.Background()

	a, err := env.Registry.Create(ctx, testutil.Appliance("lb-1", "project-1"))
	require.NoError(t, err)

	assert.NotZero(t, a.ID)
	assert.Len(t, a.ApplianceID, 36)
	assert.Equal(t, a.ApplianceID, a.DeviceName)
	assert.Equal(t, 30, a.AXAPIVersion)

	got, err := env.Registry.GetByLoadBalancer(ctx, "lb-1")
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestCreate_RejectsSecondRecordForLoadBalancer(t *testing.T) {
	env := testutil.NewRegistryEnv(t)
	ctx := context.Background()

	_, err := env.Registry.Create(ctx, testutil.Appliance("lb-1", "project-1"))
	require.NoError(t, err)

	_, err = env.Registry.Create(ctx, testutil.Appliance("lb-1", "project-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrConflict)

	all, err := env.Registry.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreate_ConcurrentSameLoadBalancer(t *testing.T) {
	env := testutil.NewRegistryEnv(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Registry.Create(ctx, testutil.Appliance("lb-race", "project-1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case fault.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)
}

func TestCreate_Validation(t *testing.T) {
	env := testutil.NewRegistryEnv(t)

	a := testutil.Appliance("lb-1", "project-1")
	a.IPAddress = ""
	_, err := env.Registry.Create(context.Background(), a)
	assert.ErrorIs(t, err, fault.ErrValidation)

	a = testutil.Appliance("lb-1", "project-1")
	a.Password = ""
	_, err = env.Registry.Create(context.Background(), a)
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestCreate_CancelledContext(t *testing.T) {
	env := testutil.NewRegistryEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.Registry.Create(ctx, testutil.Appliance("lb-1", "project-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	all, err := env.Registry.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestGetByLoadBalancer_NotFound(t *testing.T) {
	env := testutil.NewRegistryEnv(t)

	_, err := env.Registry.GetByLoadBalancer(context.Background(), "missing")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestGetByProject_MostRecentWins(t *testing.T) {
	env := testutil.NewRegistryEnv(t)
	ctx := context.Background()

	_, err := env.Registry.Create(ctx, testutil.Appliance("lb-1", "project-1"))
	require.NoError(t, err)
	second, err := env.Registry.Create(ctx, testutil.Appliance("lb-2", "project-1"))
	require.NoError(t, err)
	_, err = env.Registry.Create(ctx, testutil.Appliance("lb-3", "project-2"))
	require.NoError(t, err)

	got, err := env.Registry.GetByProject(ctx, "project-1")
	require.NoError(t, err)
	assert.Equal(t, second.ApplianceID, got.ApplianceID)

	_, err = env.Registry.GetByProject(ctx, "project-9")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestDelete_Idempotent(t *testing.T) {
	env := testutil.NewRegistryEnv(t)
	ctx := context.Background()

	require.NoError(t, env.Registry.Delete(ctx, "never-existed"))

	_, err := env.Registry.Create(ctx, testutil.Appliance("lb-1", "project-1"))
	require.NoError(t, err)

	require.NoError(t, env.Registry.Delete(ctx, "lb-1"))
	require.NoError(t, env.Registry.Delete(ctx, "lb-1"))

	_, err = env.Registry.GetByLoadBalancer(ctx, "lb-1")
	assert.ErrorIs(t, err, fault.ErrNotFound)

	// The load balancer can be assigned again once released
	_, err = env.Registry.Create(ctx, testutil.Appliance("lb-1", "project-1"))
	assert.NoError(t, err)
}

func TestDeleteByApplianceID(t *testing.T) {
	env := testutil.NewRegistryEnv(t)
	ctx := context.Background()

	a, err := env.Registry.Create(ctx, testutil.Appliance("lb-1", "project-1"))
	require.NoError(t, err)
	b, err := env.Registry.Create(ctx, testutil.Appliance("lb-2", "project-1"))
	require.NoError(t, err)

	require.NoError(t, env.Registry.DeleteByApplianceID(ctx, a.ApplianceID))
	require.NoError(t, env.Registry.DeleteByApplianceID(ctx, a.ApplianceID))

	all, err := env.Registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, b.ApplianceID, all[0].ApplianceID)
}

func TestResolveCompute(t *testing.T) {
	env := testutil.NewRegistryEnv(t)
	ctx := context.Background()

	env.AddAmphora(t, model.Amphora{ID: "amp-1", ComputeID: "nova-1", LBNetworkIP: "10.0.0.10", Status: "ALLOCATED"})
	env.AddAmphora(t, model.Amphora{ID: "amp-2", LBNetworkIP: "10.0.0.11", Status: "ALLOCATED"})

	tests := []struct {
		name      string
		amphoraID *string
		want      string
		wantErr   error
	}{
		{"compute backed", model.StringPtr("amp-1"), "nova-1", nil},
		{"amphora without compute", model.StringPtr("amp-2"), "", nil},
		{"no amphora", nil, "", nil},
		{"dangling amphora", model.StringPtr("amp-9"), "", fault.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.Registry.ResolveCompute(ctx, &model.Appliance{AmphoraID: tt.amphoraID})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarkListenerError(t *testing.T) {
	env := testutil.NewRegistryEnv(t)
	ctx := context.Background()

	l := testutil.Listener("listener-1", model.ProtocolHTTP, 80)
	l.LoadBalancerID = "lb-1"
	env.AddListeners(t, l)

	require.NoError(t, env.Status.MarkListenerError(ctx, "listener-1"))
	assert.Equal(t, model.StatusError, env.ListenerStatus(t, "listener-1"))

	err := env.Status.MarkListenerError(ctx, "missing")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}
