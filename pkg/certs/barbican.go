// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package certs

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/keymanager/v1/containers"
	"github.com/gophercloud/gophercloud/v2/openstack/keymanager/v1/secrets"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/retry"
)

// Secret reference names inside a Barbican certificate container
const (
	refCertificate = "certificate"
	refPrivateKey  = "private_key"
	refPassphrase  = "private_key_passphrase"
)

// BarbicanStore reads certificate containers from the OpenStack key manager
type BarbicanStore struct {
	client  *gophercloud.ServiceClient
	retrier *retry.Retrier
	log     logr.Logger
}

// NewBarbicanStore creates a store on a key manager service client
func NewBarbicanStore(client *gophercloud.ServiceClient, retrier *retry.Retrier, log logr.Logger) *BarbicanStore {
	return &BarbicanStore{client: client, retrier: retrier, log: log}
}

// GetCertificateBundle resolves a certificate container reference, either a
// full container URL or a bare container id
func (b *BarbicanStore) GetCertificateBundle(ctx context.Context, projectID, ref string) (*Bundle, error) {
	containerID := lastSegment(ref)
	if containerID == "" {
		return nil, fault.Validation("invalid certificate container reference %q", ref)
	}

	var container *containers.Container
	err := b.retrier.Do(ctx, "get certificate container", func(ctx context.Context) error {
		var err error
		container, err = containers.Get(ctx, b.client, containerID).Extract()
		return classify(err, "certificate container %s", containerID)
	})
	if err != nil {
		return nil, err
	}

	refs := make(map[string]string, len(container.SecretRefs))
	for _, r := range container.SecretRefs {
		refs[r.Name] = lastSegment(r.SecretRef)
	}

	certID, ok := refs[refCertificate]
	if !ok {
		return nil, fault.Validation("container %s has no certificate", containerID)
	}
	keyID, ok := refs[refPrivateKey]
	if !ok {
		return nil, fault.Validation("container %s has no private key", containerID)
	}

	bundle := &Bundle{}
	if bundle.CertFileName, bundle.Certificate, err = b.secret(ctx, certID); err != nil {
		return nil, err
	}
	if bundle.KeyFileName, bundle.PrivateKey, err = b.secret(ctx, keyID); err != nil {
		return nil, err
	}
	if passID, ok := refs[refPassphrase]; ok {
		_, pass, err := b.secret(ctx, passID)
		if err != nil {
			return nil, err
		}
		bundle.Passphrase = strings.TrimSpace(string(pass))
	}

	b.log.V(1).Info("fetched certificate bundle", "project", projectID, "container", containerID)
	return bundle, nil
}

// secret returns a secret's name and payload. Unnamed secrets are named by id.
func (b *BarbicanStore) secret(ctx context.Context, id string) (string, []byte, error) {
	var (
		name    string
		payload []byte
	)
	err := b.retrier.Do(ctx, "get secret", func(ctx context.Context) error {
		s, err := secrets.Get(ctx, b.client, id).Extract()
		if err != nil {
			return classify(err, "secret %s", id)
		}
		name = s.Name

		payload, err = secrets.GetPayload(ctx, b.client, id, nil).Extract()
		return classify(err, "payload of secret %s", id)
	})
	if err != nil {
		return "", nil, err
	}
	if name == "" {
		name = id
	}
	return name, payload, nil
}

func classify(err error, format string, args ...any) error {
	switch {
	case err == nil:
		return nil
	case gophercloud.ResponseCodeIs(err, http.StatusNotFound):
		return fault.NotFound(format, args...)
	case gophercloud.ResponseCodeIs(err, http.StatusForbidden), gophercloud.ResponseCodeIs(err, http.StatusUnauthorized):
		return fault.Validation("access to %s denied: %v", fmt.Sprintf(format, args...), err)
	default:
		return fmt.Errorf("%w: %s: %w", fault.ErrDeviceCommunication, fmt.Sprintf(format, args...), err)
	}
}

func lastSegment(ref string) string {
	ref = strings.TrimRight(strings.TrimSpace(ref), "/")
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
