// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package certs uploads listener TLS material from the secret store to an
// appliance and builds the client-ssl template that references it.
package certs

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/device"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
)

// Bundle is the TLS material of one listener. It is rebuilt on every run.
type Bundle struct {
	Certificate  []byte
	PrivateKey   []byte
	Passphrase   string
	CertFileName string
	KeyFileName  string
	TemplateName string
}

// SecretStore fetches certificate bundles. Access is checked by the store
// against projectID.
type SecretStore interface {
	GetCertificateBundle(ctx context.Context, projectID, ref string) (*Bundle, error)
}

// Materializer makes a listener's certificate available on an appliance
type Materializer struct {
	store SecretStore
	log   logr.Logger
}

// NewMaterializer creates a Materializer reading from store
func NewMaterializer(store SecretStore, log logr.Logger) *Materializer {
	return &Materializer{store: store, log: log}
}

// Materialize uploads the certificate and key of listener l and creates or
// updates its client-ssl template. It returns the template name, which is
// the listener id. Objects already on the appliance are updated in place.
func (m *Materializer) Materialize(ctx context.Context, lb *model.LoadBalancer, l *model.Listener, s device.Session) (string, error) {
	if l.TLSCertificateID == "" {
		return "", fault.Validation("listener %s terminates TLS without a certificate reference", l.ID)
	}

	bundle, err := m.store.GetCertificateBundle(ctx, lb.ProjectID, l.TLSCertificateID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch certificate for listener %s: %w", l.ID, err)
	}
	bundle.TemplateName = l.ID

	cert := device.File{Name: bundle.CertFileName, Content: bundle.Certificate}
	if err := device.CreateOrUpdate(ctx, cert, s.CreateSSLCert, s.UpdateSSLCert); err != nil {
		return "", fmt.Errorf("failed to upload certificate %s: %w", cert.Name, err)
	}

	key := device.File{Name: bundle.KeyFileName, Content: bundle.PrivateKey}
	if err := device.CreateOrUpdate(ctx, key, s.CreateSSLKey, s.UpdateSSLKey); err != nil {
		return "", fmt.Errorf("failed to upload key %s: %w", key.Name, err)
	}

	tpl := device.ClientSSLTemplate{
		Name:       bundle.TemplateName,
		CertFile:   bundle.CertFileName,
		KeyFile:    bundle.KeyFileName,
		Passphrase: bundle.Passphrase,
	}
	if err := device.CreateOrUpdate(ctx, tpl, s.CreateClientSSLTemplate, s.UpdateClientSSLTemplate); err != nil {
		return "", fmt.Errorf("failed to configure client-ssl template %s: %w", tpl.Name, err)
	}

	m.log.Info("materialized listener certificate", "listener", l.ID, "template", tpl.Name,
		"cert", cert.Name, "key", key.Name)
	return tpl.Name, nil
}
