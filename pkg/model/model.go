// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package model holds the load-balancer objects consumed by the driver and the
// appliance record it owns.
package model

import (
	"strconv"
	"strings"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
)

// Listener protocols as reported by the orchestration platform
const (
	ProtocolHTTP            = "HTTP"
	ProtocolHTTPS           = "HTTPS"
	ProtocolTCP             = "TCP"
	ProtocolUDP             = "UDP"
	ProtocolTerminatedHTTPS = "TERMINATED_HTTPS"
)

// Provisioning statuses
const (
	StatusActive        = "ACTIVE"
	StatusPendingCreate = "PENDING_CREATE"
	StatusPendingUpdate = "PENDING_UPDATE"
	StatusPendingDelete = "PENDING_DELETE"
	StatusError         = "ERROR"
)

// Session persistence types
const (
	PersistenceSourceIP   = "SOURCE_IP"
	PersistenceHTTPCookie = "HTTP_COOKIE"
	PersistenceAppCookie  = "APP_COOKIE"
)

// DefaultAXAPIVersion is used when neither the record nor the configuration names one
const DefaultAXAPIVersion = 30

// Appliance is one managed vThunder instance.
type Appliance struct {
	ID             int64
	ApplianceID    string
	AmphoraID      *string
	DeviceName     string
	IPAddress      string
	Username       string
	Password       string
	AXAPIVersion   int
	Undercloud     bool
	LoadBalancerID *string
	ProjectID      *string
	ComputeID      *string
}

// Validate checks the fields required to open a device session
func (a *Appliance) Validate() error {
	if a == nil {
		return fault.Validation("appliance is nil")
	}
	if a.IPAddress == "" {
		return fault.Validation("appliance %s has no management IP address", a.ApplianceID)
	}
	if a.Username == "" || a.Password == "" {
		return fault.Validation("appliance %s has no credentials", a.ApplianceID)
	}
	return nil
}

// Amphora is the compute-backed owner of an appliance, as stored by the host platform.
type Amphora struct {
	ID             string
	ComputeID      string
	LBNetworkIP    string
	LoadBalancerID string
	Status         string
}

// SessionPersistence configures client stickiness on a pool
type SessionPersistence struct {
	Type       string
	CookieName string
}

// Pool is a listener's default backend pool
type Pool struct {
	ID                 string
	Protocol           string
	LBAlgorithm        string
	SessionPersistence *SessionPersistence
}

// Listener is a load balancer's protocol/port binding.
type Listener struct {
	ID                 string
	LoadBalancerID     string
	Protocol           string
	ProtocolPort       int
	DefaultPoolID      string
	DefaultPool        *Pool
	TLSCertificateID   string
	AdminStateUp       bool
	ProvisioningStatus string
}

// TerminatesTLS reports whether the listener terminates TLS on the appliance
func (l *Listener) TerminatesTLS() bool {
	return l.Protocol == ProtocolTerminatedHTTPS
}

// DeviceProtocol returns the protocol name the appliance understands.
// TERMINATED_HTTPS collapses to HTTPS and HTTP is sent lower-case.
// The listener itself is never modified.
func (l *Listener) DeviceProtocol() string {
	switch {
	case l.Protocol == ProtocolTerminatedHTTPS:
		return ProtocolHTTPS
	case strings.EqualFold(l.Protocol, ProtocolHTTP):
		return strings.ToLower(l.Protocol)
	default:
		return l.Protocol
	}
}

// LoadBalancer is the parent of listeners and the unit an appliance is assigned to.
type LoadBalancer struct {
	ID        string
	ProjectID string
	Listeners []*Listener
}

// VirtualPortName is the device-side name of a listener: {loadBalancerID}_{port}
func VirtualPortName(loadBalancerID string, port int) string {
	return loadBalancerID + "_" + strconv.Itoa(port)
}

// StringPtr returns nil for an empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences a possibly nil string
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
