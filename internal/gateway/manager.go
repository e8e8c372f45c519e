// Package gateway manages the lifecycle of the supervised agent gateway:
// rendering its config, asking the supervisor to start and stop it, and
// keeping a reconciled cache of who started it and with which token.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/workspace/gateway-host/internal/gatewaycfg"
	"github.com/workspace/gateway-host/internal/metrics"
	"github.com/workspace/gateway-host/internal/persistence"
	"github.com/workspace/gateway-host/internal/supervisor"
)

// ControlPath is where the proxied control UI is served.
const ControlPath = "/api/gateway/ui/"

// Config configures a Manager.
type Config struct {
	Port             int
	ConfigFile       string
	EnvFile          string
	WorkspaceDir     string
	BinaryName       string
	BinaryCandidates []string
	InstallScript    string
	InstallTimeout   time.Duration
	ReadyTimeout     time.Duration
	PollInterval     time.Duration
	RecoveryWait     time.Duration
	ManagedAPIKey    string
	ManagedBaseURL   string
}

// State is the process-local view of the running gateway. It is rebuilt
// from durable config, the config file and the supervisor, never trusted alone.
type State struct {
	Token       string
	Provider    gatewaycfg.Provider
	StartedAt   time.Time
	OwnerUserID string
}

// StartRequest carries the caller's start parameters.
type StartRequest struct {
	APIKey      string
	Provider    gatewaycfg.Provider
	OwnerUserID string
}

// Status is the answer to a status query.
type Status struct {
	Running     bool       `json:"running"`
	PID         int        `json:"pid,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ControlURL  string     `json:"controlUrl,omitempty"`
	OwnerUserID string     `json:"owner_user_id,omitempty"`
	IsOwner     *bool      `json:"is_owner,omitempty"`
}

// Manager is the gateway supervisor adapter.
type Manager struct {
	cfg    Config
	sup    supervisor.Supervisor
	store  *persistence.Store
	client *http.Client

	lookPath func(string) (string, error)
	install  func(ctx context.Context, script string) error
	now      func() time.Time

	// op serializes lifecycle transitions.
	op sync.Mutex

	mu    sync.RWMutex
	state State
}

// NewManager creates a Manager.
func NewManager(cfg Config, sup supervisor.Supervisor, store *persistence.Store) *Manager {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RecoveryWait < 0 {
		cfg.RecoveryWait = 0
	}
	if cfg.BinaryName == "" {
		cfg.BinaryName = "clawdbot"
	}
	return &Manager{
		cfg:      cfg,
		sup:      sup,
		store:    store,
		client:   &http.Client{},
		lookPath: exec.LookPath,
		install:  runInstallScript,
		now:      time.Now,
	}
}

// Port is the gateway's local port.
func (m *Manager) Port() int { return m.cfg.Port }

func (m *Manager) cached() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setCached(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	metrics.SetGatewayUp(s != State{})
}

// running asks the supervisor. Supervisor errors read as "not running".
func (m *Manager) running(ctx context.Context) (supervisor.ProcessStatus, bool) {
	st, err := m.sup.Status(ctx)
	if err != nil {
		slog.Warn("Supervisor status failed", "error", err)
		return st, false
	}
	return st, st.Running()
}

// Start brings the gateway up for req.OwnerUserID and returns its token.
// It is idempotent for the owner: a second call while running returns the
// same token without a restart.
func (m *Manager) Start(ctx context.Context, req StartRequest) (token string, err error) {
	defer func() { metrics.Lifecycle("start", err) }()

	if err := gatewaycfg.ValidateKey(req.Provider, req.APIKey); err != nil {
		return "", err
	}
	if req.Provider == gatewaycfg.ProviderManaged && req.APIKey == "" && m.cfg.ManagedAPIKey == "" {
		return "", gatewaycfg.ErrManagedDisabled
	}

	// Fail fast for a non-owner without queuing behind a running start.
	if owner := m.cached().OwnerUserID; owner != "" && owner != req.OwnerUserID {
		if _, up := m.running(ctx); up {
			return "", ErrAlreadyRunningElsewhere
		}
	}

	m.op.Lock()
	defer m.op.Unlock()

	if _, up := m.running(ctx); up {
		return m.adoptRunning(ctx, req)
	}
	return m.startFresh(ctx, req)
}

// adoptRunning handles start while the process is already alive.
func (m *Manager) adoptRunning(ctx context.Context, req StartRequest) (string, error) {
	cur := m.cached()
	if cur.OwnerUserID != "" && cur.OwnerUserID != req.OwnerUserID {
		return "", ErrAlreadyRunningElsewhere
	}

	token, err := gatewaycfg.ReadToken(m.cfg.ConfigFile)
	if err != nil {
		slog.Warn("Could not read token from gateway config", "error", err)
	}
	if token == "" {
		slog.Info("Gateway running without a readable token, rotating and restarting")
		token, err = m.renderConfig(req, true)
		if err != nil {
			return "", err
		}
		if err := m.writeSecrets(token, req); err != nil {
			return "", err
		}
		if err := m.sup.Restart(ctx); err != nil {
			return "", fmt.Errorf("%w: restart: %v", ErrSupervisor, err)
		}
		if err := m.waitReady(ctx); err != nil {
			return "", err
		}
	}

	next := State{
		Token:       token,
		Provider:    cur.Provider,
		StartedAt:   cur.StartedAt,
		OwnerUserID: req.OwnerUserID,
	}
	if next.Provider == "" {
		next.Provider = req.Provider
	}
	if next.StartedAt.IsZero() {
		next.StartedAt = m.now().UTC()
	}
	m.setCached(next)

	if err := m.persist(ctx, next); err != nil {
		return "", err
	}
	slog.Info("Adopted running gateway", "owner_user_id", next.OwnerUserID, "provider", next.Provider)
	return token, nil
}

// startFresh installs, configures and starts a stopped gateway.
func (m *Manager) startFresh(ctx context.Context, req StartRequest) (string, error) {
	if _, err := m.ensureInstalled(ctx); err != nil {
		return "", err
	}

	token, err := m.renderConfig(req, false)
	if err != nil {
		return "", err
	}
	if err := m.writeSecrets(token, req); err != nil {
		return "", err
	}

	slog.Info("Starting gateway", "port", m.cfg.Port, "provider", req.Provider)
	began := m.now()
	if err := m.sup.Start(ctx); err != nil {
		return "", fmt.Errorf("%w: start: %v", ErrSupervisor, err)
	}

	if err := m.waitReady(ctx); err != nil {
		if errors.Is(err, ErrStartupTimeout) {
			if st, up := m.running(ctx); !up {
				slog.Error("Gateway failed to start", "state", st.State)
				return "", fmt.Errorf("%w: process state %s", ErrSupervisor, st.State)
			}
		}
		return "", err
	}
	metrics.GatewayStartupSeconds.Observe(m.now().Sub(began).Seconds())

	next := State{
		Token:       token,
		Provider:    req.Provider,
		StartedAt:   m.now().UTC(),
		OwnerUserID: req.OwnerUserID,
	}
	m.setCached(next)
	if err := m.persist(ctx, next); err != nil {
		return "", err
	}
	slog.Info("Gateway ready", "owner_user_id", next.OwnerUserID, "provider", next.Provider)
	return token, nil
}

// renderConfig merges settings into the config file and returns the token
// in effect. The existing token is reused unless forceNew is set.
func (m *Manager) renderConfig(req StartRequest, forceNew bool) (string, error) {
	doc, err := gatewaycfg.Load(m.cfg.ConfigFile)
	if err != nil {
		slog.Warn("Ignoring unreadable gateway config", "path", m.cfg.ConfigFile, "error", err)
		doc = gatewaycfg.Document{}
	}

	token := ""
	if !forceNew {
		token = doc.Token()
	}
	if token == "" {
		if token, err = gatewaycfg.GenerateToken(); err != nil {
			return "", err
		}
	}

	key := req.APIKey
	if req.Provider == gatewaycfg.ProviderManaged && key == "" {
		key = m.cfg.ManagedAPIKey
	}

	if m.cfg.WorkspaceDir != "" {
		if err := os.MkdirAll(m.cfg.WorkspaceDir, 0o755); err != nil {
			return "", fmt.Errorf("create gateway workspace: %w", err)
		}
	}

	merged, err := gatewaycfg.Merge(doc, gatewaycfg.Settings{
		Token:          token,
		Port:           m.cfg.Port,
		WorkspaceDir:   m.cfg.WorkspaceDir,
		Provider:       req.Provider,
		APIKey:         key,
		ManagedBaseURL: m.cfg.ManagedBaseURL,
	})
	if err != nil {
		return "", err
	}
	if err := gatewaycfg.Save(m.cfg.ConfigFile, merged); err != nil {
		return "", err
	}
	return token, nil
}

func (m *Manager) writeSecrets(token string, req StartRequest) error {
	return gatewaycfg.WriteSecrets(m.cfg.EnvFile, gatewaycfg.Secrets{
		Token:    token,
		Provider: req.Provider,
		APIKey:   req.APIKey,
	})
}

func (m *Manager) persist(ctx context.Context, s State) error {
	err := m.store.UpsertGatewayConfig(ctx, persistence.GatewayConfig{
		ShouldRun:   true,
		OwnerUserID: s.OwnerUserID,
		Provider:    string(s.Provider),
		Token:       s.Token,
		StartedAt:   s.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("persist gateway config: %w", err)
	}
	return nil
}

// Stop stops the gateway for its owner and reports whether it was running.
// Stopping a stopped gateway succeeds and still clears the durable
// should_run flag.
func (m *Manager) Stop(ctx context.Context, userID string) (wasRunning bool, err error) {
	defer func() { metrics.Lifecycle("stop", err) }()

	m.op.Lock()
	defer m.op.Unlock()

	if _, up := m.running(ctx); !up {
		m.setCached(State{})
		return false, m.store.SetGatewayShouldRun(ctx, false)
	}

	owner, err := m.owner(ctx)
	if err != nil {
		return true, err
	}
	if owner != "" && owner != userID {
		return true, ErrNotOwner
	}

	if err := m.sup.Stop(ctx); err != nil {
		slog.Error("Supervisor stop failed", "error", err)
	}
	if err := gatewaycfg.ClearSecrets(m.cfg.EnvFile); err != nil {
		slog.Warn("Could not remove gateway secrets", "error", err)
	}
	if err := m.store.SetGatewayShouldRun(ctx, false); err != nil {
		return true, err
	}
	m.setCached(State{})
	slog.Info("Gateway stopped", "user_id", userID)
	return true, nil
}

// Status reports the live status as seen by userID. Owner details appear
// only while the process is alive.
func (m *Manager) Status(ctx context.Context, userID string) Status {
	st, up := m.running(ctx)
	if !up {
		return Status{Running: false}
	}
	cur := m.cached()
	out := Status{
		Running:     true,
		PID:         st.PID,
		Provider:    string(cur.Provider),
		ControlURL:  ControlPath,
		OwnerUserID: cur.OwnerUserID,
	}
	if !cur.StartedAt.IsZero() {
		t := cur.StartedAt
		out.StartedAt = &t
	}
	isOwner := cur.OwnerUserID != "" && cur.OwnerUserID == userID
	out.IsOwner = &isOwner
	return out
}

// Token returns the gateway token for its owner.
func (m *Manager) Token(ctx context.Context, userID string) (string, error) {
	if _, up := m.running(ctx); !up {
		return "", ErrNotRunning
	}
	owner, err := m.owner(ctx)
	if err != nil {
		return "", err
	}
	if owner == "" || owner != userID {
		return "", ErrNotOwner
	}
	if cur := m.cached(); cur.Token != "" {
		return cur.Token, nil
	}
	return gatewaycfg.ReadToken(m.cfg.ConfigFile)
}

// owner is the user controlling the running gateway. A gateway adopted
// without a recorded owner falls back to the instance owner.
func (m *Manager) owner(ctx context.Context) (string, error) {
	if id := m.cached().OwnerUserID; id != "" {
		return id, nil
	}
	o, err := m.store.GetInstanceOwner(ctx)
	if err != nil {
		return "", fmt.Errorf("look up instance owner: %w", err)
	}
	if o == nil {
		return "", nil
	}
	return o.UserID, nil
}

// Restart asks the supervisor to restart a running gateway.
func (m *Manager) Restart(ctx context.Context) (err error) {
	defer func() { metrics.Lifecycle("restart", err) }()

	m.op.Lock()
	defer m.op.Unlock()

	if err := m.sup.Restart(ctx); err != nil {
		return fmt.Errorf("%w: restart: %v", ErrSupervisor, err)
	}
	return nil
}

// Reconcile rebuilds the cache at startup and resurrects the gateway when
// the durable config says it should run but the process is down.
func (m *Manager) Reconcile(ctx context.Context) (err error) {
	defer func() { metrics.Lifecycle("reconcile", err) }()

	m.op.Lock()
	defer m.op.Unlock()

	if err := m.sup.Reload(ctx); err != nil {
		slog.Warn("Supervisor reload failed", "error", err)
	}

	saved, err := m.store.GetGatewayConfig(ctx)
	if err != nil {
		return err
	}

	if st, up := m.running(ctx); up {
		token, terr := gatewaycfg.ReadToken(m.cfg.ConfigFile)
		if terr != nil {
			slog.Warn("Could not read token from gateway config", "error", terr)
		}
		next := State{Token: token, Provider: gatewaycfg.ProviderManaged}
		if saved != nil {
			if saved.Provider != "" {
				next.Provider = gatewaycfg.Provider(saved.Provider)
			}
			if next.Token == "" {
				next.Token = saved.Token
			}
			next.OwnerUserID = saved.OwnerUserID
			next.StartedAt = saved.StartedAt
		}
		m.setCached(next)
		slog.Info("Gateway already running, state recovered", "pid", st.PID, "owner_user_id", next.OwnerUserID)
		return nil
	}

	m.setCached(State{})
	if saved == nil || !saved.ShouldRun {
		return nil
	}

	token := saved.Token
	if fileToken, _ := gatewaycfg.ReadToken(m.cfg.ConfigFile); fileToken != "" {
		token = fileToken
	}
	if token == "" {
		return fmt.Errorf("gateway should run but no token is recorded")
	}

	slog.Info("Gateway should run but is down, restarting", "owner_user_id", saved.OwnerUserID)
	provider := gatewaycfg.Provider(saved.Provider)
	if err := gatewaycfg.WriteSecrets(m.cfg.EnvFile, gatewaycfg.Secrets{Token: token, Provider: provider}); err != nil {
		return err
	}
	if err := m.sup.Start(ctx); err != nil {
		return fmt.Errorf("%w: start: %v", ErrSupervisor, err)
	}

	if m.cfg.RecoveryWait > 0 {
		timer := time.NewTimer(m.cfg.RecoveryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if _, up := m.running(ctx); !up {
		return fmt.Errorf("%w: gateway not running after auto-start", ErrSupervisor)
	}
	next := State{
		Token:       token,
		Provider:    provider,
		StartedAt:   m.now().UTC(),
		OwnerUserID: saved.OwnerUserID,
	}
	m.setCached(next)
	if err := m.persist(ctx, next); err != nil {
		return err
	}
	slog.Info("Gateway auto-started")
	return nil
}
