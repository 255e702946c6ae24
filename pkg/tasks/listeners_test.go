// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package tasks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/platform-engineering-labs/vthunder-driver/pkg/certs"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/device"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/fault"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/model"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/tasks"
	"github.com/platform-engineering-labs/vthunder-driver/pkg/testutil"
)

const listenerINI = `
[LISTENER]
ipinip = true
autosnat = True
template_http = "http-default"
template_tcp = "tcp-default"
template_policy = "policy-1"
`

type bundleStore struct {
	calls int
}

func (s *bundleStore) GetCertificateBundle(context.Context, string, string) (*certs.Bundle, error) {
	s.calls++
	return &certs.Bundle{
		Certificate:  []byte("cert"),
		PrivateKey:   []byte("key"),
		CertFileName: "www.crt",
		KeyFileName:  "www.key",
	}, nil
}

type listenerEnv struct {
	reg   *testutil.RegistryEnv
	dev   *testutil.RecordingFactory
	store *bundleStore
	logs  *observer.ObservedLogs
	log   logr.Logger
	lb    *model.LoadBalancer
	state *tasks.State
}

func newListenerEnv(t *testing.T, listeners ...*model.Listener) *listenerEnv {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)

	env := &listenerEnv{
		reg:   testutil.NewRegistryEnv(t),
		dev:   testutil.NewRecordingFactory(),
		store: &bundleStore{},
		logs:  logs,
		log:   zapr.NewLogger(zap.New(core)),
		lb:    testutil.LoadBalancer("LB1", "P1", listeners...),
	}
	env.reg.AddListeners(t, listeners...)

	a, err := env.reg.Registry.Create(context.Background(), testutil.Appliance("LB1", "P1"))
	require.NoError(t, err)
	env.state = &tasks.State{LoadBalancer: env.lb, Appliance: a}

	return env
}

func (e *listenerEnv) create(t *testing.T, ini string) *tasks.CreateListeners {
	return tasks.NewCreateListeners(e.dev, loadSettings(t, ini), certs.NewMaterializer(e.store, e.log), e.reg.Status, e.log)
}

func (e *listenerEnv) update(t *testing.T, ini string) *tasks.UpdateListeners {
	return tasks.NewUpdateListeners(e.dev, loadSettings(t, ini), certs.NewMaterializer(e.store, e.log), e.reg.Status, e.log)
}

func ports(calls []testutil.RecordedCall) []device.VirtualPort {
	var out []device.VirtualPort
	for _, c := range calls {
		out = append(out, c.Object.(device.VirtualPort))
	}
	return out
}

func TestCreateListeners_TerminatedHTTPS(t *testing.T) {
	l := testutil.Listener("L1", model.ProtocolTerminatedHTTPS, 443)
	l.TLSCertificateID = "https://barbican/v1/containers/c-1"
	env := newListenerEnv(t, l)

	require.NoError(t, env.create(t, listenerINI).Execute(context.Background(), env.state))

	created := ports(env.dev.CallsTo("CreateVirtualPort"))
	require.Len(t, created, 1)
	p := created[0]
	assert.Equal(t, "HTTPS", p.Protocol)
	assert.Equal(t, "LB1_443", p.Name)
	assert.Equal(t, "LB1", p.VirtualServer)
	assert.Equal(t, 443, p.Port)
	assert.NotEmpty(t, p.TemplateClientSSL)
	assert.Equal(t, "L1", p.TemplateClientSSL)
	assert.Equal(t, "tcp-default", p.TemplateTCP)
	assert.Empty(t, p.TemplateHTTP)
	assert.Equal(t, "policy-1", p.TemplatePolicy)
	assert.True(t, p.IPinIP)
	assert.True(t, p.AutoSNAT)
	assert.True(t, p.Enabled)
	assert.Equal(t, "pool-L1", p.ServiceGroup)

	// the caller's listener keeps its protocol
	assert.Equal(t, model.ProtocolTerminatedHTTPS, l.Protocol)
	assert.Equal(t, 1, env.store.calls)

	assert.Equal(t, []string{
		"CreateSSLCert", "CreateSSLKey", "CreateClientSSLTemplate", "CreateVirtualPort",
	}, env.dev.Ops())

	opened, closed := env.dev.Sessions()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}

func TestCreateListeners_HTTPUsesHTTPTemplate(t *testing.T) {
	l := testutil.Listener("L1", model.ProtocolHTTP, 80)
	l.AdminStateUp = false
	env := newListenerEnv(t, l)

	require.NoError(t, env.create(t, listenerINI).Execute(context.Background(), env.state))

	p := ports(env.dev.CallsTo("CreateVirtualPort"))[0]
	assert.Equal(t, "http", p.Protocol)
	assert.Equal(t, "http-default", p.TemplateHTTP)
	assert.Empty(t, p.TemplateTCP)
	assert.Empty(t, p.TemplateClientSSL)
	assert.False(t, p.Enabled)
	assert.Zero(t, p.ConnLimit)
}

func TestCreateListeners_InputOrder(t *testing.T) {
	env := newListenerEnv(t,
		testutil.Listener("L1", model.ProtocolTCP, 8080),
		testutil.Listener("L2", model.ProtocolUDP, 53),
		testutil.Listener("L3", model.ProtocolHTTP, 80),
	)

	require.NoError(t, env.create(t, "").Execute(context.Background(), env.state))

	var names []string
	for _, p := range ports(env.dev.CallsTo("CreateVirtualPort")) {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"LB1_8080", "LB1_53", "LB1_80"}, names)
}

func TestCreateListeners_ConnLimitClamped(t *testing.T) {
	env := newListenerEnv(t, testutil.Listener("L1", model.ProtocolTCP, 8080))

	ini := "[LISTENER]\nconn_limit = 9000000\n"
	require.NoError(t, env.create(t, ini).Execute(context.Background(), env.state))

	p := ports(env.dev.CallsTo("CreateVirtualPort"))[0]
	assert.Equal(t, 8000000, p.ConnLimit)

	warnings := env.logs.FilterMessage("conn_limit out of range, using maximum").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, int64(9000000), warnings[0].ContextMap()["configured"])
}

func TestCreateListeners_ConnLimitInRange(t *testing.T) {
	env := newListenerEnv(t, testutil.Listener("L1", model.ProtocolTCP, 8080))

	require.NoError(t, env.create(t, "[LISTENER]\nconn_limit = 100\n").Execute(context.Background(), env.state))

	assert.Equal(t, 100, ports(env.dev.CallsTo("CreateVirtualPort"))[0].ConnLimit)
	assert.Zero(t, env.logs.FilterMessage("conn_limit out of range, using maximum").Len())
}

func TestCreateListeners_InvalidAutoSNAT(t *testing.T) {
	env := newListenerEnv(t, testutil.Listener("L1", model.ProtocolTCP, 8080))

	err := env.create(t, "[LISTENER]\nautosnat = yes\n").Execute(context.Background(), env.state)
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.Empty(t, env.dev.Calls())
}

func TestCreateListeners_SessionPersistence(t *testing.T) {
	src := testutil.Listener("L1", model.ProtocolTCP, 8080)
	src.DefaultPool.SessionPersistence = &model.SessionPersistence{Type: model.PersistenceSourceIP}
	cookie := testutil.Listener("L2", model.ProtocolHTTP, 80)
	cookie.DefaultPool.SessionPersistence = &model.SessionPersistence{Type: model.PersistenceAppCookie, CookieName: "JSESSIONID"}
	env := newListenerEnv(t, src, cookie)

	// a template left over from an earlier run is updated in place
	env.dev.Seed("persist/source-ip", "pool-L1")

	require.NoError(t, env.create(t, "").Execute(context.Background(), env.state))

	created := ports(env.dev.CallsTo("CreateVirtualPort"))
	require.Len(t, created, 2)
	assert.Equal(t, "pool-L1", created[0].PersistSourceIP)
	assert.Empty(t, created[0].PersistCookie)
	assert.Equal(t, "pool-L2", created[1].PersistCookie)

	updates := env.dev.CallsTo("UpdatePersistTemplate")
	require.Len(t, updates, 1)
	assert.Equal(t, device.PersistTemplate{Kind: device.PersistSourceIP, Name: "pool-L1"}, updates[0].Object)

	cookies := env.dev.CallsTo("CreatePersistTemplate")
	require.Len(t, cookies, 2)
	assert.Equal(t, device.PersistTemplate{Kind: device.PersistCookie, Name: "pool-L2", CookieName: "JSESSIONID"}, cookies[1].Object)
}

func TestCreateListeners_ExistingPortIsUpdated(t *testing.T) {
	env := newListenerEnv(t, testutil.Listener("L1", model.ProtocolTCP, 8080))
	env.dev.Seed("port/LB1", "LB1_8080")

	require.NoError(t, env.create(t, "").Execute(context.Background(), env.state))
	assert.Equal(t, []string{"CreateVirtualPort", "UpdateVirtualPort"}, env.dev.Ops())
}

func TestCreateListeners_DeviceErrorPropagates(t *testing.T) {
	env := newListenerEnv(t, testutil.Listener("L1", model.ProtocolTCP, 8080))
	env.dev.FailOp("CreateVirtualPort", fault.ErrDeviceCommunication)

	err := env.create(t, "").Execute(context.Background(), env.state)
	assert.ErrorIs(t, err, fault.ErrDeviceCommunication)

	opened, closed := env.dev.Sessions()
	assert.Equal(t, opened, closed)
}

func TestCreateListeners_RequiresAppliance(t *testing.T) {
	env := newListenerEnv(t, testutil.Listener("L1", model.ProtocolTCP, 8080))
	env.state.Appliance = nil

	err := env.create(t, "").Execute(context.Background(), env.state)
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestCreateListeners_RevertMarksAllListeners(t *testing.T) {
	env := newListenerEnv(t,
		testutil.Listener("L1", model.ProtocolTCP, 8080),
		testutil.Listener("L2", model.ProtocolHTTP, 80),
	)

	require.NoError(t, env.create(t, "").Revert(context.Background(), env.state, errors.New("boom")))
	assert.Equal(t, model.StatusError, env.reg.ListenerStatus(t, "L1"))
	assert.Equal(t, model.StatusError, env.reg.ListenerStatus(t, "L2"))
}

func TestUpdateListeners_SameNameAsCreate(t *testing.T) {
	l := testutil.Listener("L1", model.ProtocolHTTP, 80)
	env := newListenerEnv(t, l)
	ctx := context.Background()

	require.NoError(t, env.create(t, "").Execute(ctx, env.state))
	env.state.Listeners = []*model.Listener{l}
	require.NoError(t, env.update(t, "").Execute(ctx, env.state))

	created := ports(env.dev.CallsTo("CreateVirtualPort"))
	updated := ports(env.dev.CallsTo("UpdateVirtualPort"))
	require.Len(t, created, 1)
	require.Len(t, updated, 1)
	assert.Equal(t, created[0].Name, updated[0].Name)
	assert.Equal(t, "LB1_80", updated[0].Name)
	assert.Equal(t, created[0].Protocol, updated[0].Protocol)
}

func TestUpdateListeners_RevertMarksEveryListenerOfLoadBalancer(t *testing.T) {
	l1 := testutil.Listener("L1", model.ProtocolTCP, 8080)
	l2 := testutil.Listener("L2", model.ProtocolHTTP, 80)
	env := newListenerEnv(t, l1, l2)
	ctx := context.Background()

	// only L1 is being updated and the port is missing on the device
	env.state.Listeners = []*model.Listener{l1}
	task := env.update(t, "")
	err := task.Execute(ctx, env.state)
	require.ErrorIs(t, err, fault.ErrNotFound)

	require.NoError(t, task.Revert(ctx, env.state, err))
	assert.Equal(t, model.StatusError, env.reg.ListenerStatus(t, "L1"))
	assert.Equal(t, model.StatusError, env.reg.ListenerStatus(t, "L2"))
}

func TestDeleteListener(t *testing.T) {
	l := testutil.Listener("L1", model.ProtocolHTTP, 80)
	env := newListenerEnv(t, l)
	ctx := context.Background()
	env.dev.Seed("port/LB1", "LB1_80")
	env.state.Listener = l

	task := tasks.NewDeleteListener(env.dev, env.reg.Status, env.log)
	require.NoError(t, task.Execute(ctx, env.state))

	calls := env.dev.CallsTo("DeleteVirtualPort")
	require.Len(t, calls, 1)
	assert.Equal(t, testutil.DeletedPort{VirtualServer: "LB1", Name: "LB1_80", Protocol: "http", Port: 80}, calls[0].Object)

	// already gone
	require.NoError(t, task.Execute(ctx, env.state))
	assert.Equal(t, 1, env.logs.FilterMessage("virtual port already absent").Len())
}

func TestDeleteListener_RevertMarksOnlyItsListener(t *testing.T) {
	l1 := testutil.Listener("L1", model.ProtocolTCP, 8080)
	l2 := testutil.Listener("L2", model.ProtocolHTTP, 80)
	env := newListenerEnv(t, l1, l2)
	ctx := context.Background()
	env.state.Listener = l1
	env.dev.FailOp("DeleteVirtualPort", fault.ErrDeviceCommunication)

	task := tasks.NewDeleteListener(env.dev, env.reg.Status, env.log)
	err := task.Execute(ctx, env.state)
	require.ErrorIs(t, err, fault.ErrDeviceCommunication)

	require.NoError(t, task.Revert(ctx, env.state, err))
	assert.Equal(t, model.StatusError, env.reg.ListenerStatus(t, "L1"))
	assert.Equal(t, model.StatusPendingCreate, env.reg.ListenerStatus(t, "L2"))
}

func TestDeleteListener_RevertReportsMissingListener(t *testing.T) {
	env := newListenerEnv(t)
	env.state.Listener = testutil.Listener("L-gone", model.ProtocolTCP, 1)

	err := tasks.NewDeleteListener(env.dev, env.reg.Status, env.log).Revert(context.Background(), env.state, errors.New("boom"))
	assert.ErrorIs(t, err, fault.ErrNotFound)
}
