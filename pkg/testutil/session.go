// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package testutil

import (
	"context"
	"sync"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/device"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
)

// RecordedCall is one method invocation on a RecordingSession
type RecordedCall struct {
	Op     string
	Object any
}

// RecordingFactory hands out RecordingSessions that share one call log and
// one object set, so successive tasks see each other's objects
type RecordingFactory struct {
	mu      sync.Mutex
	calls   []RecordedCall
	objects map[string]bool
	errs    map[string]error
	opened  []*model.Appliance
	closed  int
	OpenErr error
}

// NewRecordingFactory returns an empty RecordingFactory
func NewRecordingFactory() *RecordingFactory {
	return &RecordingFactory{objects: map[string]bool{}, errs: map[string]error{}}
}

// FailOp makes every call of op return err. A nil err clears it.
func (f *RecordingFactory) FailOp(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Seed marks an object as already present so that creating it conflicts
func (f *RecordingFactory) Seed(kind, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[kind+"/"+name] = true
}

// Open implements device.Factory
func (f *RecordingFactory) Open(_ context.Context, a *model.Appliance) (device.Session, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	f.opened = append(f.opened, a)
	return &recordingSession{f: f}, nil
}

// Calls returns every recorded call in order
func (f *RecordingFactory) Calls() []RecordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedCall(nil), f.calls...)
}

// CallsTo returns the recorded calls of one operation
func (f *RecordingFactory) CallsTo(op string) []RecordedCall {
	var out []RecordedCall
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Ops returns the operation names in call order
func (f *RecordingFactory) Ops() []string {
	var ops []string
	for _, c := range f.Calls() {
		ops = append(ops, c.Op)
	}
	return ops
}

// Sessions returns how many sessions were opened and closed
func (f *RecordingFactory) Sessions() (opened, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened), f.closed
}

// DeletedPort is the argument list of a DeleteVirtualPort call
type DeletedPort struct {
	VirtualServer string
	Name          string
	Protocol      string
	Port          int
}

type recordingSession struct {
	f *RecordingFactory
}

func (s *recordingSession) record(op, key string, create, remove bool, obj any) error {
	f := s.f
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, RecordedCall{Op: op, Object: obj})
	if err, ok := f.errs[op]; ok {
		return err
	}
	switch {
	case create:
		if f.objects[key] {
			return fault.Conflict("%s exists", key)
		}
		f.objects[key] = true
	case remove:
		if !f.objects[key] {
			return fault.NotFound("%s does not exist", key)
		}
		delete(f.objects, key)
	default:
		if !f.objects[key] {
			return fault.NotFound("%s does not exist", key)
		}
	}
	return nil
}

func (s *recordingSession) CreateSSLCert(_ context.Context, v device.File) error {
	return s.record("CreateSSLCert", "ssl-cert/"+v.Name, true, false, v)
}

func (s *recordingSession) UpdateSSLCert(_ context.Context, v device.File) error {
	return s.record("UpdateSSLCert", "ssl-cert/"+v.Name, false, false, v)
}

func (s *recordingSession) CreateSSLKey(_ context.Context, v device.File) error {
	return s.record("CreateSSLKey", "ssl-key/"+v.Name, true, false, v)
}

func (s *recordingSession) UpdateSSLKey(_ context.Context, v device.File) error {
	return s.record("UpdateSSLKey", "ssl-key/"+v.Name, false, false, v)
}

func (s *recordingSession) CreateClientSSLTemplate(_ context.Context, v device.ClientSSLTemplate) error {
	return s.record("CreateClientSSLTemplate", "client-ssl/"+v.Name, true, false, v)
}

func (s *recordingSession) UpdateClientSSLTemplate(_ context.Context, v device.ClientSSLTemplate) error {
	return s.record("UpdateClientSSLTemplate", "client-ssl/"+v.Name, false, false, v)
}

func (s *recordingSession) CreatePersistTemplate(_ context.Context, v device.PersistTemplate) error {
	return s.record("CreatePersistTemplate", "persist/"+v.Kind+"/"+v.Name, true, false, v)
}

func (s *recordingSession) UpdatePersistTemplate(_ context.Context, v device.PersistTemplate) error {
	return s.record("UpdatePersistTemplate", "persist/"+v.Kind+"/"+v.Name, false, false, v)
}

func (s *recordingSession) CreateVirtualPort(_ context.Context, v device.VirtualPort) error {
	return s.record("CreateVirtualPort", "port/"+v.VirtualServer+"/"+v.Name, true, false, v)
}

func (s *recordingSession) UpdateVirtualPort(_ context.Context, v device.VirtualPort) error {
	return s.record("UpdateVirtualPort", "port/"+v.VirtualServer+"/"+v.Name, false, false, v)
}

func (s *recordingSession) DeleteVirtualPort(_ context.Context, virtualServer, name, protocol string, port int) error {
	return s.record("DeleteVirtualPort", "port/"+virtualServer+"/"+name, false, true,
		DeletedPort{VirtualServer: virtualServer, Name: name, Protocol: protocol, Port: port})
}

func (s *recordingSession) Close(context.Context) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.closed++
	return nil
}
