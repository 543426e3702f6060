package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/vikashloomba/mcp-studio-go/pkg/mcpmgr"

// watchRetryInterval spaces out attempts to reclaim a dead connection while
// another lifecycle operation holds the server.
const watchRetryInterval = 50 * time.Millisecond

// Manager owns the configured servers, drives each through the connection
// state machine, and routes protocol calls to live connections. Lifecycle
// operations on one server are serialized through the Registry; operations
// on different servers run concurrently.
type Manager struct {
	opts     ManagerOptions
	binder   Binder
	registry *Registry
	log      *EventLog
	tracer   trace.Tracer

	saveMu sync.Mutex

	hooksMu               sync.RWMutex
	serverRemovedHandlers []func(string)
	stateHandlers         []func(string, ConnectionState, ConnectionState)
}

// NewManager constructs a Manager, loads the initial configurations from
// opts.Store, and, when opts.AutoConnect is set, dials every loaded server in
// the background. A nil binder selects an SDKBinder that reports into the
// manager's event log. Load failures are logged, never returned.
func NewManager(ctx context.Context, binder Binder, opts *ManagerOptions) *Manager {
	options := opts.withDefaults()
	tp := options.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if binder == nil {
		binder = NewSDKBinder(&SDKBinderOptions{Log: options.Log})
	}
	m := &Manager{
		opts:     options,
		binder:   binder,
		registry: NewRegistry(),
		log:      options.Log,
		tracer:   tp.Tracer(tracerName),
	}
	m.registry.onState = func(id string, from, to ConnectionState) {
		options.Metrics.stateChanged(from, to)
		m.notifyState(id, from, to)
	}
	m.restore(ctx)
	if options.AutoConnect {
		for _, id := range m.registry.IDs() {
			go func(serverID string) {
				_ = m.Connect(context.Background(), serverID)
			}(id)
		}
	}
	return m
}

// Log exposes the manager's event log.
func (m *Manager) Log() *EventLog { return m.log }

// Registry exposes the underlying registry for read-only inspection.
func (m *Manager) Registry() *Registry { return m.registry }

// ListServers returns registered server IDs in registration order.
func (m *Manager) ListServers() []string { return m.registry.IDs() }

// HasServer reports whether a server ID is known.
func (m *Manager) HasServer(serverID string) bool { return m.registry.Has(serverID) }

// Servers returns status snapshots for every registered server.
func (m *Manager) Servers() []ServerSummary { return m.registry.Summaries() }

// Server returns the status snapshot for one server.
func (m *Manager) Server(serverID string) (ServerSummary, error) {
	s, ok := m.registry.Summary(serverID)
	if !ok {
		return ServerSummary{}, serverErr(serverID, ErrServerNotFound)
	}
	return s, nil
}

// GetServerConfig returns a copy of the configuration for serverID.
func (m *Manager) GetServerConfig(serverID string) (ServerConfig, error) {
	cfg, ok := m.registry.Config(serverID)
	if !ok {
		return ServerConfig{}, serverErr(serverID, ErrServerNotFound)
	}
	return cfg, nil
}

// AddServer validates and registers cfg in the disconnected state. It does
// not connect.
func (m *Manager) AddServer(ctx context.Context, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("mcpmgr: %w", err)
		m.reject(cfg.ID, "add", err)
		return err
	}
	if err := m.registry.Register(cfg); err != nil {
		m.reject(cfg.ID, "add", err)
		return err
	}
	m.opts.Metrics.lifecycle("add", nil)
	m.log.Record(cfg.ID, SeverityDebug, "Server configuration added: "+cfg.DisplayName(), nil)
	m.persist(ctx)
	return nil
}

// UpdateServer replaces the stored configuration for cfg.ID. The connection
// state is left untouched: a live connection keeps running with its old
// settings until the caller disconnects and connects again.
func (m *Manager) UpdateServer(ctx context.Context, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("mcpmgr: %w", err)
		m.reject(cfg.ID, "update", err)
		return err
	}
	if err := m.registry.Replace(cfg); err != nil {
		m.reject(cfg.ID, "update", err)
		return err
	}
	m.opts.Metrics.lifecycle("update", nil)
	m.log.Record(cfg.ID, SeverityDebug, "Server configuration updated: "+cfg.DisplayName(), nil)
	m.persist(ctx)
	return nil
}

// RemoveServer closes any live connection for serverID and then removes its
// configuration, both under the server's token.
func (m *Manager) RemoveServer(ctx context.Context, serverID string) error {
	var name string
	err := m.registry.WithExclusiveAccess(serverID, func(s *Slot) error {
		name = s.Config().DisplayName()
		if conn := s.Detach(); conn != nil {
			m.closeConn(ctx, serverID, conn)
		}
		s.SetState(StateDisconnected, "")
		return s.Unregister()
	})
	m.opts.Metrics.lifecycle("remove", err)
	if err != nil {
		m.reject(serverID, "remove", err)
		return err
	}
	m.log.Record(serverID, SeverityDebug, "Server configuration removed: "+name, nil)
	m.persist(ctx)

	m.hooksMu.RLock()
	handlers := append([]func(string){}, m.serverRemovedHandlers...)
	m.hooksMu.RUnlock()
	for _, h := range handlers {
		func(handler func(string), id string) {
			defer func() { _ = recover() }()
			handler(id)
		}(h, serverID)
	}
	return nil
}

// OnServerRemoved registers a callback invoked after RemoveServer deletes a
// server. Handlers run without any manager lock held.
func (m *Manager) OnServerRemoved(handler func(string)) {
	if handler == nil {
		return
	}
	m.hooksMu.Lock()
	m.serverRemovedHandlers = append(m.serverRemovedHandlers, handler)
	m.hooksMu.Unlock()
}

// OnStateChange registers a callback invoked on every connection state
// transition. It runs while the lifecycle operation still holds the server,
// so handlers must return quickly and must not call back into lifecycle
// operations for the same server.
func (m *Manager) OnStateChange(handler func(serverID string, from, to ConnectionState)) {
	if handler == nil {
		return
	}
	m.hooksMu.Lock()
	m.stateHandlers = append(m.stateHandlers, handler)
	m.hooksMu.Unlock()
}

func (m *Manager) notifyState(serverID string, from, to ConnectionState) {
	m.hooksMu.RLock()
	handlers := m.stateHandlers
	m.hooksMu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { _ = recover() }()
			h(serverID, from, to)
		}()
	}
}

// Connect opens a connection to serverID. It fails with ErrAlreadyConnected
// when the server is connected and with ErrAlreadyInProgress while another
// lifecycle operation on the same server is running. A transport failure
// leaves the server in StateError and is returned as a *TransportError.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	return m.connect(ctx, serverID, false)
}

// Reconnect closes any existing connection to serverID and opens a new one.
func (m *Manager) Reconnect(ctx context.Context, serverID string) error {
	return m.connect(ctx, serverID, true)
}

func (m *Manager) connect(ctx context.Context, serverID string, reconnect bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	op := "connect"
	if reconnect {
		op = "reconnect"
	}
	err := m.registry.WithExclusiveAccess(serverID, func(s *Slot) error {
		cfg := s.Config()
		if s.State() == StateConnected && !reconnect {
			return serverErr(serverID, ErrAlreadyConnected)
		}
		if stale := s.Detach(); stale != nil {
			m.closeConn(ctx, serverID, stale)
			if reconnect {
				m.log.Record(serverID, SeverityDebug, "Closed previous connection to: "+cfg.DisplayName(), nil)
			}
		}

		s.SetState(StateConnecting, "")
		m.log.Record(serverID, SeverityDebug, "Connecting to server: "+cfg.DisplayName(), nil)

		openCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
		conn, err := m.open(openCtx, cfg)
		cancel()
		if err != nil {
			msg := err.Error()
			if msg == "" {
				msg = "unknown error"
			}
			s.SetState(StateError, msg)
			m.log.Record(serverID, SeverityError, "Failed to connect: "+msg, errorData(err))
			return &TransportError{ServerID: serverID, Op: op, Err: err}
		}

		s.Attach(conn)
		s.SetState(StateConnected, "")
		m.log.Record(serverID, SeverityInfo, "Successfully connected to: "+cfg.DisplayName(), conn.Capabilities())
		go m.watch(serverID, conn)
		return nil
	})
	m.opts.Metrics.lifecycle(op, err)
	if err != nil {
		var terr *TransportError
		if !errors.As(err, &terr) {
			m.reject(serverID, op, err)
		}
		return err
	}
	return nil
}

func (m *Manager) open(ctx context.Context, cfg ServerConfig) (conn Connection, err error) {
	defer func() {
		if r := recover(); r != nil {
			conn, err = nil, fmt.Errorf("transport binding panicked: %v", r)
		}
	}()
	conn, err = m.binder.Open(ctx, cfg)
	if err == nil && conn == nil {
		err = errors.New("transport binding returned no connection")
	}
	if err != nil && conn != nil {
		_ = conn.Close()
		conn = nil
	}
	return conn, err
}

// Disconnect closes the live connection for serverID and moves it to
// StateDisconnected. Disconnecting an already disconnected server is a
// no-op. Close failures are logged but never block the transition.
func (m *Manager) Disconnect(ctx context.Context, serverID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	err := m.disconnect(ctx, serverID)
	m.opts.Metrics.lifecycle("disconnect", err)
	if err != nil {
		m.reject(serverID, "disconnect", err)
		return err
	}
	return nil
}

func (m *Manager) disconnect(ctx context.Context, serverID string) error {
	return m.registry.WithExclusiveAccess(serverID, func(s *Slot) error {
		conn := s.Detach()
		if conn == nil && s.State() == StateDisconnected {
			return nil
		}
		name := s.Config().DisplayName()
		m.log.Record(serverID, SeverityDebug, "Disconnecting from: "+name, nil)
		if conn != nil {
			m.closeConn(ctx, serverID, conn)
		}
		s.SetState(StateDisconnected, "")
		m.log.Record(serverID, SeverityInfo, "Disconnected from: "+name, nil)
		return nil
	})
}

// Cleanup disconnects every registered server concurrently and waits for
// all of them. A server held by an in-flight lifecycle operation is retried
// until that operation finishes or ctx ends, so a connect racing with
// shutdown cannot leave its connection behind. Individual failures are
// logged rather than returned, and each close is bounded by CloseTimeout.
func (m *Manager) Cleanup(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	var g errgroup.Group
	for _, id := range m.registry.IDs() {
		g.Go(func() error {
			err := m.disconnectWhenFree(ctx, id)
			m.opts.Metrics.lifecycle("disconnect", err)
			if err != nil && !errors.Is(err, ErrServerNotFound) {
				m.log.Record(id, SeverityError, "Cleanup could not disconnect server: "+err.Error(), errorData(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	m.log.Record(SystemServerID, SeverityDebug, "Cleanup finished", nil)
}

func (m *Manager) disconnectWhenFree(ctx context.Context, serverID string) error {
	for {
		err := m.disconnect(ctx, serverID)
		if !errors.Is(err, ErrAlreadyInProgress) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", err, ctx.Err())
		case <-time.After(watchRetryInterval):
		}
	}
}

func (m *Manager) closeConn(ctx context.Context, serverID string, conn Connection) {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("close panicked: %v", r)
			}
		}()
		done <- conn.Close()
	}()

	timer := time.NewTimer(m.opts.CloseTimeout)
	defer timer.Stop()
	var err error
	select {
	case err = <-done:
	case <-timer.C:
		err = fmt.Errorf("close timed out after %s", m.opts.CloseTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		terr := &TransportError{ServerID: serverID, Op: "close", Err: err}
		m.log.Record(serverID, SeverityError, "Error closing connection: "+err.Error(), errorData(terr))
	}
}

// watch reclaims conn if it terminates while still attached, moving the
// server to StateError.
func (m *Manager) watch(serverID string, conn Connection) {
	done := conn.Done()
	if done == nil {
		return
	}
	<-done
	for {
		err := m.registry.WithExclusiveAccess(serverID, func(s *Slot) error {
			if s.Conn() != conn {
				return nil
			}
			s.Detach()
			m.closeConn(context.Background(), serverID, conn)
			s.SetState(StateError, "connection closed unexpectedly")
			m.log.Record(serverID, SeverityWarning, "Connection lost: "+s.Config().DisplayName(), nil)
			return nil
		})
		if !errors.Is(err, ErrAlreadyInProgress) {
			return
		}
		if current, ok := m.registry.Get(serverID); !ok || current != conn {
			return
		}
		time.Sleep(watchRetryInterval)
	}
}

func (m *Manager) restore(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	configs, err := m.opts.Store.LoadAll(ctx)
	if err != nil {
		perr := &ConfigPersistenceError{Op: "load", Err: err}
		m.log.Record(SystemServerID, SeverityError, "Failed to load server configurations from storage", errorData(perr))
		return
	}
	loaded := 0
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			m.log.Record(SystemServerID, SeverityWarning, "Skipping invalid stored server configuration", errorData(err))
			continue
		}
		if err := m.registry.Register(cfg); err != nil {
			m.log.Record(SystemServerID, SeverityWarning, "Skipping stored server configuration", errorData(err))
			continue
		}
		loaded++
	}
	if loaded > 0 {
		m.log.Record(SystemServerID, SeverityInfo,
			fmt.Sprintf("Loaded %d server configuration(s) from storage", loaded), nil)
	}
}

// persist writes the full configuration set. Saves are serialized and each
// one snapshots the registry under the save lock, so the last write always
// reflects the latest state.
func (m *Manager) persist(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if err := m.opts.Store.SaveAll(context.WithoutCancel(ctx), m.registry.Configs()); err != nil {
		perr := &ConfigPersistenceError{Op: "save", Err: err}
		m.opts.Metrics.saveFailed()
		m.log.Record(SystemServerID, SeverityError, "Failed to save server configurations to storage", errorData(perr))
	}
}

func (m *Manager) reject(serverID, op string, err error) {
	m.log.Record(serverID, SeverityWarning, fmt.Sprintf("%s rejected: %v", op, err), errorData(err))
}

func errorData(err error) map[string]any {
	if err == nil {
		return nil
	}
	return map[string]any{"error": err.Error()}
}
