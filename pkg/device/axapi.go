// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package device

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/retry"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/transport/axapi"
)

// Config holds settings shared by all appliance sessions
type Config struct {
	Port               int           `yaml:"port"`
	Protocol           string        `yaml:"protocol"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
	Timeout            time.Duration `yaml:"timeout"`

	// HTTPClient overrides the default transport, used by tests
	HTTPClient *http.Client `yaml:"-"`
}

// AXAPIFactory opens aXAPI v3 sessions
type AXAPIFactory struct {
	cfg     Config
	retrier *retry.Retrier
	log     logr.Logger
}

// NewAXAPIFactory creates a session factory. Every device call of the
// sessions it opens runs under retrier.
func NewAXAPIFactory(cfg Config, retrier *retry.Retrier, log logr.Logger) *AXAPIFactory {
	return &AXAPIFactory{cfg: cfg, retrier: retrier, log: log}
}

// Open authenticates against the appliance and returns a session
func (f *AXAPIFactory) Open(ctx context.Context, a *model.Appliance) (Session, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	client, err := axapi.NewClient(&axapi.Config{
		Host:               a.IPAddress,
		Port:               f.cfg.Port,
		Protocol:           f.cfg.Protocol,
		Username:           a.Username,
		Password:           a.Password,
		Timeout:            f.cfg.Timeout,
		InsecureSkipVerify: f.cfg.InsecureSkipVerify,
		HTTPClient:         f.cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aXAPI client for %s: %w", a.IPAddress, err)
	}

	if err := f.retrier.Do(ctx, "authenticate", client.Authenticate); err != nil {
		return nil, fmt.Errorf("failed to open session on appliance %s: %w", a.ApplianceID, err)
	}

	f.log.V(1).Info("opened appliance session", "appliance", a.ApplianceID, "address", a.IPAddress)
	return &axapiSession{client: client, retrier: f.retrier, log: f.log}, nil
}

type axapiSession struct {
	client  *axapi.Client
	retrier *retry.Retrier
	log     logr.Logger
}

func unauthorized(err error) bool {
	var terr *axapi.Error
	return errors.As(err, &terr) && terr.Code == axapi.ErrorCodeUnauthorized
}

// call runs fn under the retrier. A rejected signature is renewed once per
// attempt before fn is repeated.
func (s *axapiSession) call(ctx context.Context, op string, fn func(context.Context) error) error {
	return s.retrier.Do(ctx, op, func(ctx context.Context) error {
		err := fn(ctx)
		if !unauthorized(err) {
			return err
		}
		s.log.V(1).Info("session signature rejected, re-authenticating", "operation", op)
		if err := s.client.Authenticate(ctx); err != nil {
			return fmt.Errorf("failed to renew session: %w", err)
		}
		return fn(ctx)
	})
}

func (s *axapiSession) do(ctx context.Context, op string, opts axapi.RequestOptions) error {
	return s.call(ctx, op, func(ctx context.Context) error {
		_, err := s.client.Do(ctx, opts)
		return err
	})
}

func (s *axapiSession) upload(ctx context.Context, op string, opts axapi.UploadOptions) error {
	return s.call(ctx, op, func(ctx context.Context) error {
		_, err := s.client.Upload(ctx, opts)
		return err
	})
}

func fileMetadata(kind string, f File, pem bool) map[string]interface{} {
	meta := map[string]interface{}{
		"file":        f.Name,
		"file-handle": f.Name,
		"action":      "import",
	}
	if pem {
		meta["certificate-type"] = "pem"
	}
	return map[string]interface{}{kind: meta}
}

func (s *axapiSession) CreateSSLCert(ctx context.Context, f File) error {
	return s.upload(ctx, "create ssl-cert "+f.Name, axapi.UploadOptions{
		Path: "/file/ssl-cert", FileName: f.Name, Content: f.Content,
		Metadata: fileMetadata("ssl-cert", f, true),
	})
}

func (s *axapiSession) UpdateSSLCert(ctx context.Context, f File) error {
	return s.upload(ctx, "update ssl-cert "+f.Name, axapi.UploadOptions{
		Method: http.MethodPut, Path: "/file/ssl-cert/" + url.PathEscape(f.Name), FileName: f.Name, Content: f.Content,
		Metadata: fileMetadata("ssl-cert", f, true),
	})
}

func (s *axapiSession) CreateSSLKey(ctx context.Context, f File) error {
	return s.upload(ctx, "create ssl-key "+f.Name, axapi.UploadOptions{
		Path: "/file/ssl-key", FileName: f.Name, Content: f.Content,
		Metadata: fileMetadata("ssl-key", f, false),
	})
}

func (s *axapiSession) UpdateSSLKey(ctx context.Context, f File) error {
	return s.upload(ctx, "update ssl-key "+f.Name, axapi.UploadOptions{
		Method: http.MethodPut, Path: "/file/ssl-key/" + url.PathEscape(f.Name), FileName: f.Name, Content: f.Content,
		Metadata: fileMetadata("ssl-key", f, false),
	})
}

func clientSSLBody(t ClientSSLTemplate) map[string]interface{} {
	body := map[string]interface{}{
		"name": t.Name,
		"cert": t.CertFile,
		"key":  t.KeyFile,
	}
	if t.Passphrase != "" {
		body["passphrase"] = t.Passphrase
	}
	return map[string]interface{}{"client-ssl": body}
}

func (s *axapiSession) CreateClientSSLTemplate(ctx context.Context, t ClientSSLTemplate) error {
	return s.do(ctx, "create client-ssl template "+t.Name, axapi.RequestOptions{
		Method: http.MethodPost, Path: "/slb/template/client-ssl", Body: clientSSLBody(t),
	})
}

func (s *axapiSession) UpdateClientSSLTemplate(ctx context.Context, t ClientSSLTemplate) error {
	return s.do(ctx, "update client-ssl template "+t.Name, axapi.RequestOptions{
		Method: http.MethodPut, Path: "/slb/template/client-ssl/" + url.PathEscape(t.Name), Body: clientSSLBody(t),
	})
}

func persistBody(t PersistTemplate) map[string]interface{} {
	body := map[string]interface{}{"name": t.Name}
	if t.Kind == PersistCookie && t.CookieName != "" {
		body["cookie-name"] = t.CookieName
	}
	return map[string]interface{}{t.Kind: body}
}

func (s *axapiSession) CreatePersistTemplate(ctx context.Context, t PersistTemplate) error {
	return s.do(ctx, "create persist template "+t.Name, axapi.RequestOptions{
		Method: http.MethodPost, Path: "/slb/template/persist/" + t.Kind, Body: persistBody(t),
	})
}

func (s *axapiSession) UpdatePersistTemplate(ctx context.Context, t PersistTemplate) error {
	return s.do(ctx, "update persist template "+t.Name, axapi.RequestOptions{
		Method: http.MethodPut, Path: "/slb/template/persist/" + t.Kind + "/" + url.PathEscape(t.Name), Body: persistBody(t),
	})
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func virtualPortBody(p VirtualPort) map[string]interface{} {
	action := "disable"
	if p.Enabled {
		action = "enable"
	}
	port := map[string]interface{}{
		"name":        p.Name,
		"port-number": p.Port,
		"protocol":    strings.ToLower(p.Protocol),
		"action":      action,
	}
	if p.ServiceGroup != "" {
		port["service-group"] = p.ServiceGroup
	}
	if p.ConnLimit > 0 {
		port["conn-limit"] = p.ConnLimit
	}
	if p.AutoSNAT {
		port["auto"] = flag(p.AutoSNAT)
	}
	if p.IPinIP {
		port["ipinip"] = flag(p.IPinIP)
	}
	if p.NoDestNAT {
		port["no-dest-nat"] = flag(p.NoDestNAT)
	}
	for key, value := range map[string]string{
		"template-virtual-port":      p.TemplateVirtualPort,
		"template-http":              p.TemplateHTTP,
		"template-tcp":               p.TemplateTCP,
		"template-policy":            p.TemplatePolicy,
		"template-client-ssl":        p.TemplateClientSSL,
		"template-persist-source-ip": p.PersistSourceIP,
		"template-persist-cookie":    p.PersistCookie,
	} {
		if value != "" {
			port[key] = value
		}
	}
	return map[string]interface{}{"port": port}
}

func portPath(virtualServer string) string {
	return "/slb/virtual-server/" + url.PathEscape(virtualServer) + "/port"
}

func portKey(port int, protocol string) string {
	return strconv.Itoa(port) + "+" + strings.ToLower(protocol)
}

func (s *axapiSession) CreateVirtualPort(ctx context.Context, p VirtualPort) error {
	return s.do(ctx, "create virtual port "+p.Name, axapi.RequestOptions{
		Method: http.MethodPost, Path: portPath(p.VirtualServer), Body: virtualPortBody(p),
	})
}

func (s *axapiSession) UpdateVirtualPort(ctx context.Context, p VirtualPort) error {
	return s.do(ctx, "update virtual port "+p.Name, axapi.RequestOptions{
		Method: http.MethodPut, Path: portPath(p.VirtualServer) + "/" + portKey(p.Port, p.Protocol), Body: virtualPortBody(p),
	})
}

func (s *axapiSession) DeleteVirtualPort(ctx context.Context, virtualServer, name, protocol string, port int) error {
	return s.do(ctx, "delete virtual port "+name, axapi.RequestOptions{
		Method: http.MethodDelete, Path: portPath(virtualServer) + "/" + portKey(port, protocol),
	})
}

// Close logs off. It uses its own deadline so that a cancelled task still
// releases the session.
func (s *axapiSession) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.retrier.Policy().Timeout)
	defer cancel()
	return s.client.Logoff(ctx)
}
