// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package settings resolves the vendor tunables of the driver from layered INI
// files. Absence of a key is never an error; callers apply their own default.
package settings

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
)

// Section names
const (
	SectionDefault  = "DEFAULT"
	SectionListener = "LISTENER"
)

// Connection limit bounds, inclusive
const (
	MinConnLimit = 1
	MaxConnLimit = 8000000
)

// Resolver answers section/key lookups
type Resolver struct {
	file *ini.File
}

// Load reads the given sources in order. Later sources override earlier
// ones key by key. Sources are file paths, []byte or io.Reader as accepted by ini.
func Load(sources ...interface{}) (*Resolver, error) {
	if len(sources) == 0 {
		return &Resolver{file: ini.Empty()}, nil
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		PreserveSurroundedQuote:  true,
		SpaceBeforeInlineComment: true,
	}, sources[0], sources[1:]...)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &Resolver{file: f}, nil
}

// Lookup returns the raw value of section/key and whether it is set
func (r *Resolver) Lookup(section, key string) (string, bool) {
	sec, err := r.file.GetSection(section)
	if err != nil {
		return "", false
	}
	if !sec.HasKey(key) {
		return "", false
	}
	return sec.Key(key).String(), true
}

// String returns the raw value or def when absent
func (r *Resolver) String(section, key, def string) string {
	if v, ok := r.Lookup(section, key); ok {
		return v
	}
	return def
}

// Unquoted returns the value with surrounding double quotes removed
func (r *Resolver) Unquoted(section, key string) (string, bool) {
	v, ok := r.Lookup(section, key)
	if !ok {
		return "", false
	}
	return strings.Trim(strings.TrimSpace(v), `"`), true
}

// Bool parses section/key as a literal true or false, case-insensitively.
// Any other value, including an empty one, is a validation error.
func (r *Resolver) Bool(section, key string, def bool) (bool, error) {
	v, ok := r.Lookup(section, key)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fault.Validation("%s.%s must be true or false, got %q", section, key, v)
	}
}

// Int parses section/key as a base 10 integer. Surrounding quotes are allowed.
func (r *Resolver) Int(section, key string) (int, bool, error) {
	v, ok := r.Unquoted(section, key)
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fault.Validation("%s.%s must be an integer, got %q", section, key, v)
	}
	return i, true, nil
}

// ClampConnLimit returns x when it lies within [MinConnLimit, MaxConnLimit].
// Anything else is replaced by MaxConnLimit and reported as clamped.
func ClampConnLimit(x int) (int, bool) {
	if x < MinConnLimit || x > MaxConnLimit {
		return MaxConnLimit, true
	}
	return x, false
}

// Listener holds the [LISTENER] tunables applied to every virtual port
type Listener struct {
	IPinIP    bool
	NoDestNAT bool
	// HAConnMirror is resolved but the device call does not accept it yet
	HAConnMirror   bool
	AutoSNAT       bool
	TemplatePolicy string
	// ConnLimit is nil when unset and unclamped otherwise
	ConnLimit           *int
	TemplateVirtualPort string
	TemplateHTTP        string
	TemplateTCP         string
}

// ListenerSettings resolves the [LISTENER] section
func (r *Resolver) ListenerSettings() (*Listener, error) {
	var (
		l   Listener
		err error
	)

	if l.IPinIP, err = r.Bool(SectionListener, "ipinip", false); err != nil {
		return nil, err
	}
	if l.NoDestNAT, err = r.Bool(SectionListener, "no_dest_nat", false); err != nil {
		return nil, err
	}
	if l.HAConnMirror, err = r.Bool(SectionListener, "ha_conn_mirror", false); err != nil {
		return nil, err
	}
	if l.AutoSNAT, err = r.Bool(SectionListener, "autosnat", false); err != nil {
		return nil, err
	}

	l.TemplatePolicy, _ = r.Unquoted(SectionListener, "template_policy")
	l.TemplateVirtualPort, _ = r.Unquoted(SectionListener, "template_virtual_port")
	l.TemplateHTTP, _ = r.Unquoted(SectionListener, "template_http")
	l.TemplateTCP, _ = r.Unquoted(SectionListener, "template_tcp")

	limit, ok, err := r.Int(SectionListener, "conn_limit")
	if err != nil {
		return nil, err
	}
	if ok {
		l.ConnLimit = &limit
	}

	return &l, nil
}

// ApplianceDefaults holds the credentials and API version given to new appliances
type ApplianceDefaults struct {
	Username     string
	Password     string
	AXAPIVersion int
}

// ApplianceDefaults resolves DEFAULT_VTHUNDER_USERNAME, DEFAULT_VTHUNDER_PASSWORD
// and DEFAULT_AXAPI_VERSION from the [DEFAULT] section
func (r *Resolver) ApplianceDefaults() (*ApplianceDefaults, error) {
	username, ok := r.Lookup(SectionDefault, "DEFAULT_VTHUNDER_USERNAME")
	if !ok {
		return nil, fault.Validation("DEFAULT_VTHUNDER_USERNAME is not configured")
	}
	password, ok := r.Lookup(SectionDefault, "DEFAULT_VTHUNDER_PASSWORD")
	if !ok {
		return nil, fault.Validation("DEFAULT_VTHUNDER_PASSWORD is not configured")
	}

	version, ok, err := r.Int(SectionDefault, "DEFAULT_AXAPI_VERSION")
	if err != nil {
		return nil, err
	}
	if !ok {
		version = model.DefaultAXAPIVersion
	}

	return &ApplianceDefaults{
		Username:     strings.ReplaceAll(username, `"`, ""),
		Password:     strings.ReplaceAll(password, `"`, ""),
		AXAPIVersion: version,
	}, nil
}
