// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package device opens authenticated sessions to vThunder appliances and
// exposes the objects the driver manages on them.
package device

import (
	"context"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
)

// File is a certificate or key file imported onto the appliance
type File struct {
	Name    string
	Content []byte
}

// ClientSSLTemplate terminates TLS on a virtual port
type ClientSSLTemplate struct {
	Name       string
	CertFile   string
	KeyFile    string
	Passphrase string
}

// Persist template kinds
const (
	PersistSourceIP = "source-ip"
	PersistCookie   = "cookie"
)

// PersistTemplate pins clients to a backend
type PersistTemplate struct {
	Kind       string
	Name       string
	CookieName string
}

// VirtualPort is a listener on a virtual server. VirtualServer is the load
// balancer id and Name the derived {loadBalancerID}_{port}.
type VirtualPort struct {
	VirtualServer string
	Name          string
	Protocol      string
	Port          int
	ServiceGroup  string
	Enabled       bool

	ConnLimit int
	AutoSNAT  bool
	IPinIP    bool
	NoDestNAT bool

	TemplateVirtualPort string
	TemplateHTTP        string
	TemplateTCP         string
	TemplatePolicy      string
	TemplateClientSSL   string
	PersistSourceIP     string
	PersistCookie       string
}

// Session is one authenticated conversation with an appliance. Create calls
// fail with an error matching fault.ErrConflict when the object exists, and
// update and delete calls with fault.ErrNotFound when it does not.
type Session interface {
	CreateSSLCert(ctx context.Context, f File) error
	UpdateSSLCert(ctx context.Context, f File) error
	CreateSSLKey(ctx context.Context, f File) error
	UpdateSSLKey(ctx context.Context, f File) error
	CreateClientSSLTemplate(ctx context.Context, t ClientSSLTemplate) error
	UpdateClientSSLTemplate(ctx context.Context, t ClientSSLTemplate) error
	CreatePersistTemplate(ctx context.Context, t PersistTemplate) error
	UpdatePersistTemplate(ctx context.Context, t PersistTemplate) error
	CreateVirtualPort(ctx context.Context, p VirtualPort) error
	UpdateVirtualPort(ctx context.Context, p VirtualPort) error
	DeleteVirtualPort(ctx context.Context, virtualServer, name, protocol string, port int) error
	Close(ctx context.Context) error
}

// Factory opens a fresh session for an appliance record
type Factory interface {
	Open(ctx context.Context, a *model.Appliance) (Session, error)
}

// CreateOrUpdate calls create and falls back to update when the object
// already exists on the appliance
func CreateOrUpdate[T any](ctx context.Context, obj T, create, update func(context.Context, T) error) error {
	err := create(ctx, obj)
	if err == nil || !fault.IsConflict(err) {
		return err
	}
	return update(ctx, obj)
}
