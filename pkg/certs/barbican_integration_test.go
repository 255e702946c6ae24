// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build integration

package certs_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/certs"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/client"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/config"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/retry"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/testutil"
)

func newBarbicanStore(t *testing.T) *certs.BarbicanStore {
	t.Helper()
	testutil.SkipIfOpenStackNotConfigured(t)

	cfg, err := config.Parse(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	osc, err := client.NewClient(ctx, cfg)
	require.NoError(t, err)

	return certs.NewBarbicanStore(osc.KeyManagerClient, retry.New(retry.DefaultPolicy(), logr.Discard()), logr.Discard())
}

func TestBarbican_GetCertificateBundle(t *testing.T) {
	store := newBarbicanStore(t)
	if testutil.TestContainerRef == "" {
		t.Skip("Skipping test: VTHUNDER_TEST_CONTAINER_REF not set")
	}

	b, err := store.GetCertificateBundle(context.Background(), testutil.ProjectID, testutil.TestContainerRef)
	require.NoError(t, err)
	assert.NotEmpty(t, b.Certificate)
	assert.NotEmpty(t, b.PrivateKey)
	assert.NotEmpty(t, b.CertFileName)
	assert.NotEmpty(t, b.KeyFileName)
}

func TestBarbican_MissingContainer(t *testing.T) {
	store := newBarbicanStore(t)

	_, err := store.GetCertificateBundle(context.Background(), testutil.ProjectID, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}
