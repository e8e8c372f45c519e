package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workspace/gateway-host/internal/gatewaycfg"
	"github.com/workspace/gateway-host/internal/persistence"
	"github.com/workspace/gateway-host/internal/supervisor"
)

type harness struct {
	m      *Manager
	sup    *supervisor.Fake
	store  *persistence.Store
	cfg    Config
	health *atomic.Int32
}

// newHarness builds a Manager against a fake supervisor, a temp store and
// an httptest server standing in for the gateway's health endpoint.
func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	health := &atomic.Int32{}
	health.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(health.Load()))
	}))
	t.Cleanup(srv.Close)

	_, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	bin := filepath.Join(dir, "bin", "clawdbot")
	require.NoError(t, os.MkdirAll(filepath.Dir(bin), 0o755))
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	store, err := persistence.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := Config{
		Port:             port,
		ConfigFile:       filepath.Join(dir, "gw", "config.json"),
		EnvFile:          filepath.Join(dir, "gw", "gateway.env"),
		WorkspaceDir:     filepath.Join(dir, "workspace"),
		BinaryCandidates: []string{bin},
		ReadyTimeout:     time.Second,
		PollInterval:     10 * time.Millisecond,
		ManagedBaseURL:   "https://llm.example.com/v1",
		ManagedAPIKey:    "managed-key-0123456789",
	}
	sup := supervisor.NewFake()
	m := NewManager(cfg, sup, store)
	m.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	return &harness{m: m, sup: sup, store: store, cfg: cfg, health: health}
}

func (h *harness) start(t *testing.T, owner string) string {
	t.Helper()
	token, err := h.m.Start(context.Background(), StartRequest{Provider: gatewaycfg.ProviderManaged, OwnerUserID: owner})
	require.NoError(t, err)
	return token
}

func TestStartFresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	token := h.start(t, "user_a")
	assert.Len(t, token, 64)

	fileToken, err := gatewaycfg.ReadToken(h.cfg.ConfigFile)
	require.NoError(t, err)
	assert.Equal(t, token, fileToken)

	env, err := os.ReadFile(h.cfg.EnvFile)
	require.NoError(t, err)
	assert.Contains(t, string(env), token)

	_, err = os.Stat(h.cfg.WorkspaceDir)
	assert.NoError(t, err)

	saved, err := h.store.GetGatewayConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.True(t, saved.ShouldRun)
	assert.Equal(t, "user_a", saved.OwnerUserID)
	assert.Equal(t, "managed", saved.Provider)

	st := h.m.Status(ctx, "user_a")
	assert.True(t, st.Running)
	assert.NotZero(t, st.PID)
	assert.Equal(t, ControlPath, st.ControlURL)
	require.NotNil(t, st.IsOwner)
	assert.True(t, *st.IsOwner)
	require.NotNil(t, st.StartedAt)

	other := h.m.Status(ctx, "user_b")
	require.NotNil(t, other.IsOwner)
	assert.False(t, *other.IsOwner)
}

func TestStartIsIdempotentForOwner(t *testing.T) {
	h := newHarness(t)

	first := h.start(t, "user_a")
	second := h.start(t, "user_a")

	assert.Equal(t, first, second)
	starts, _, restarts := h.sup.Counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, restarts)
}

func TestStartRejectsOtherUserWhileRunning(t *testing.T) {
	h := newHarness(t)
	h.start(t, "user_a")

	_, err := h.m.Start(context.Background(), StartRequest{Provider: gatewaycfg.ProviderManaged, OwnerUserID: "user_b"})
	assert.ErrorIs(t, err, ErrAlreadyRunningElsewhere)
}

func TestStartValidatesDirectKey(t *testing.T) {
	h := newHarness(t)

	_, err := h.m.Start(context.Background(), StartRequest{Provider: gatewaycfg.ProviderOpenAI, APIKey: "short", OwnerUserID: "user_a"})
	assert.ErrorIs(t, err, gatewaycfg.ErrAPIKeyRequired)
	starts, _, _ := h.sup.Counts()
	assert.Zero(t, starts)
}

func TestStartManagedRequiresOperatorKey(t *testing.T) {
	h := newHarness(t)
	h.m.cfg.ManagedAPIKey = ""

	_, err := h.m.Start(context.Background(), StartRequest{Provider: gatewaycfg.ProviderManaged, OwnerUserID: "user_a"})
	assert.ErrorIs(t, err, gatewaycfg.ErrManagedDisabled)
	starts, _, _ := h.sup.Counts()
	assert.Zero(t, starts)
	_, statErr := os.Stat(h.cfg.ConfigFile)
	assert.True(t, os.IsNotExist(statErr), "config must not be rendered")

	// A caller-supplied key is enough without an operator default.
	_, err = h.m.Start(context.Background(), StartRequest{
		Provider:    gatewaycfg.ProviderManaged,
		APIKey:      "caller-key-0123456789",
		OwnerUserID: "user_a",
	})
	require.NoError(t, err)
}

func TestStartDirectProviderWritesKeyToEnv(t *testing.T) {
	h := newHarness(t)

	_, err := h.m.Start(context.Background(), StartRequest{
		Provider:    gatewaycfg.ProviderAnthropic,
		APIKey:      "sk-ant-0123456789abcdef",
		OwnerUserID: "user_a",
	})
	require.NoError(t, err)

	env, err := os.ReadFile(h.cfg.EnvFile)
	require.NoError(t, err)
	assert.Contains(t, string(env), "ANTHROPIC_API_KEY")
}

func TestStartReusesTokenAcrossRestarts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.start(t, "user_a")
	_, err := h.m.Stop(ctx, "user_a")
	require.NoError(t, err)
	second := h.start(t, "user_a")

	assert.Equal(t, first, second)
}

func TestStartRotatesTokenWhenRunningWithoutOne(t *testing.T) {
	h := newHarness(t)
	h.sup.SetRunning(true)

	token := h.start(t, "user_a")
	assert.NotEmpty(t, token)

	_, _, restarts := h.sup.Counts()
	assert.Equal(t, 1, restarts)
	fileToken, _ := gatewaycfg.ReadToken(h.cfg.ConfigFile)
	assert.Equal(t, token, fileToken)
}

func TestStartTimesOut(t *testing.T) {
	h := newHarness(t)
	h.health.Store(http.StatusServiceUnavailable)
	h.m.cfg.ReadyTimeout = 50 * time.Millisecond

	_, err := h.m.Start(context.Background(), StartRequest{Provider: gatewaycfg.ProviderManaged, OwnerUserID: "user_a"})
	assert.ErrorIs(t, err, ErrStartupTimeout)
}

func TestStartSupervisorFailure(t *testing.T) {
	h := newHarness(t)
	h.sup.OnStart = func() error { return errors.New("spawn error") }

	_, err := h.m.Start(context.Background(), StartRequest{Provider: gatewaycfg.ProviderManaged, OwnerUserID: "user_a"})
	assert.ErrorIs(t, err, ErrSupervisor)
}

func TestStartNotInstalled(t *testing.T) {
	h := newHarness(t)
	h.m.cfg.BinaryCandidates = nil

	_, err := h.m.Start(context.Background(), StartRequest{Provider: gatewaycfg.ProviderManaged, OwnerUserID: "user_a"})
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestStartRunsInstallScriptOnce(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	bin := filepath.Join(dir, "clawdbot")
	script := filepath.Join(dir, "install.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	h.m.cfg.BinaryCandidates = []string{bin}
	h.m.cfg.InstallScript = script
	installs := 0
	h.m.install = func(ctx context.Context, s string) error {
		installs++
		return os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755)
	}

	h.start(t, "user_a")
	assert.Equal(t, 1, installs)
}

func TestStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t, "user_a")

	_, err := h.m.Stop(ctx, "user_b")
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.True(t, h.m.Status(ctx, "user_a").Running)

	wasRunning, err := h.m.Stop(ctx, "user_a")
	require.NoError(t, err)
	assert.True(t, wasRunning)
	assert.False(t, h.m.Status(ctx, "user_a").Running)

	_, err = os.Stat(h.cfg.EnvFile)
	assert.True(t, os.IsNotExist(err), "secrets file should be removed")

	saved, err := h.store.GetGatewayConfig(ctx)
	require.NoError(t, err)
	assert.False(t, saved.ShouldRun)
}

func TestStopAdoptedGatewayWithoutRecordedOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, gatewaycfg.Save(h.cfg.ConfigFile, gatewaycfg.Document{
		Gateway: &gatewaycfg.GatewayBlock{Auth: gatewaycfg.Auth{Mode: "token", Token: "file-token"}},
	}))
	_, err := h.store.SetInstanceOwnerIfAbsent(ctx, persistence.InstanceOwner{UserID: "user_a", Email: "a@example.com"})
	require.NoError(t, err)
	h.sup.SetRunning(true)
	require.NoError(t, h.m.Reconcile(ctx))

	_, err = h.m.Token(ctx, "user_b")
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = h.m.Stop(ctx, "user_b")
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.True(t, h.m.Status(ctx, "user_a").Running)

	token, err := h.m.Token(ctx, "user_a")
	require.NoError(t, err)
	assert.Equal(t, "file-token", token)

	wasRunning, err := h.m.Stop(ctx, "user_a")
	require.NoError(t, err)
	assert.True(t, wasRunning)
}

func TestStopWhenNotRunning(t *testing.T) {
	h := newHarness(t)
	wasRunning, err := h.m.Stop(context.Background(), "anyone")
	assert.NoError(t, err)
	assert.False(t, wasRunning)
	_, stops, _ := h.sup.Counts()
	assert.Zero(t, stops)
}

func TestStatusHidesOwnerWhenStopped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t, "user_a")

	// The process died behind our back.
	h.sup.SetRunning(false)

	st := h.m.Status(ctx, "user_a")
	assert.False(t, st.Running)
	assert.Empty(t, st.OwnerUserID)
	assert.Nil(t, st.IsOwner)
}

func TestToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.m.Token(ctx, "user_a")
	assert.ErrorIs(t, err, ErrNotRunning)

	want := h.start(t, "user_a")

	got, err := h.m.Token(ctx, "user_a")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = h.m.Token(ctx, "user_b")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestReconcileAdoptsRunningGateway(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, gatewaycfg.Save(h.cfg.ConfigFile, gatewaycfg.Document{
		Gateway: &gatewaycfg.GatewayBlock{Auth: gatewaycfg.Auth{Mode: "token", Token: "file-token"}},
	}))
	started := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, h.store.UpsertGatewayConfig(ctx, persistence.GatewayConfig{
		ShouldRun: true, OwnerUserID: "user_a", Provider: "openai", Token: "db-token", StartedAt: started,
	}))
	h.sup.SetRunning(true)

	require.NoError(t, h.m.Reconcile(ctx))

	token, err := h.m.Token(ctx, "user_a")
	require.NoError(t, err)
	assert.Equal(t, "file-token", token)

	st := h.m.Status(ctx, "user_a")
	assert.Equal(t, "openai", st.Provider)
	require.NotNil(t, st.StartedAt)
	assert.True(t, st.StartedAt.Equal(started))
	starts, _, _ := h.sup.Counts()
	assert.Zero(t, starts)
	assert.Equal(t, 1, h.sup.Reloads)
}

func TestReconcileRestartsWhenShouldRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.UpsertGatewayConfig(ctx, persistence.GatewayConfig{
		ShouldRun: true, OwnerUserID: "user_a", Provider: "managed", Token: "db-token", StartedAt: time.Now(),
	}))

	require.NoError(t, h.m.Reconcile(ctx))

	starts, _, _ := h.sup.Counts()
	assert.Equal(t, 1, starts)
	token, err := h.m.Token(ctx, "user_a")
	require.NoError(t, err)
	assert.Equal(t, "db-token", token)

	env, err := os.ReadFile(h.cfg.EnvFile)
	require.NoError(t, err)
	assert.Contains(t, string(env), "db-token")
}

func TestReconcileLeavesStoppedGatewayAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.UpsertGatewayConfig(ctx, persistence.GatewayConfig{ShouldRun: false, Token: "t"}))
	require.NoError(t, h.m.Reconcile(ctx))

	starts, _, _ := h.sup.Counts()
	assert.Zero(t, starts)
}

func TestReconcileWithoutTokenFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.UpsertGatewayConfig(ctx, persistence.GatewayConfig{ShouldRun: true}))
	assert.Error(t, h.m.Reconcile(ctx))
}

func TestRestart(t *testing.T) {
	h := newHarness(t)
	h.start(t, "user_a")

	require.NoError(t, h.m.Restart(context.Background()))
	_, _, restarts := h.sup.Counts()
	assert.Equal(t, 1, restarts)

	h.sup.RestartErr = errors.New("boom")
	assert.ErrorIs(t, h.m.Restart(context.Background()), ErrSupervisor)
}
