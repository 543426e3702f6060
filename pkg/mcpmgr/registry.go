package mcpmgr

import (
	"sync"
)

// Registry maps server IDs to their configuration, connection state, and at
// most one live Connection. Each ID carries an exclusive-access token so
// lifecycle operations on the same server never overlap, while operations on
// different servers proceed independently.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	order   []string

	onState func(id string, from, to ConnectionState)
}

type registryEntry struct {
	config  ServerConfig
	state   ConnectionState
	lastErr string
	caps    *Capabilities
	conn    Connection
	busy    bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Register adds cfg in the disconnected state.
func (r *Registry) Register(cfg ServerConfig) error {
	r.mu.Lock()
	if _, ok := r.entries[cfg.ID]; ok {
		r.mu.Unlock()
		return serverErr(cfg.ID, ErrDuplicateServer)
	}
	r.entries[cfg.ID] = &registryEntry{config: cfg.Clone(), state: StateDisconnected}
	r.order = append(r.order, cfg.ID)
	hook := r.onState
	r.mu.Unlock()
	if hook != nil {
		hook(cfg.ID, "", StateDisconnected)
	}
	return nil
}

// Unregister removes the entry for id. The live connection, if any, must
// have been closed and detached first.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return serverErr(id, ErrServerNotFound)
	}
	if entry.busy {
		r.mu.Unlock()
		return serverErr(id, ErrAlreadyInProgress)
	}
	if entry.conn != nil {
		r.mu.Unlock()
		return serverErr(id, ErrServerBusy)
	}
	r.removeLocked(id)
	state := entry.state
	hook := r.onState
	r.mu.Unlock()
	if hook != nil {
		hook(id, state, "")
	}
	return nil
}

func (r *Registry) removeLocked(id string) {
	delete(r.entries, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the live connection for id. A false result means "not
// currently connected", including for unknown IDs.
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok || entry.conn == nil {
		return nil, false
	}
	return entry.conn, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Config returns a copy of the configuration registered for id.
func (r *Registry) Config(id string) (ServerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return ServerConfig{}, false
	}
	return entry.config.Clone(), true
}

// Replace swaps the stored configuration for cfg.ID without touching the
// connection state.
func (r *Registry) Replace(cfg ServerConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[cfg.ID]
	if !ok {
		return serverErr(cfg.ID, ErrServerNotFound)
	}
	entry.config = cfg.Clone()
	return nil
}

// IDs returns registered server IDs in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Configs returns copies of every registered configuration in registration order.
func (r *Registry) Configs() []ServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].config.Clone())
	}
	return out
}

// Summary returns the status snapshot for id.
func (r *Registry) Summary(id string) (ServerSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return ServerSummary{}, false
	}
	return entry.summary(id), true
}

// Summaries returns status snapshots in registration order.
func (r *Registry) Summaries() []ServerSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerSummary, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].summary(id))
	}
	return out
}

func (e *registryEntry) summary(id string) ServerSummary {
	s := ServerSummary{
		ID:     id,
		Config: e.config.Clone(),
		State:  e.state,
		Error:  e.lastErr,
	}
	if e.caps != nil {
		caps := *e.caps
		s.Capabilities = &caps
	}
	return s
}

// WithExclusiveAccess acquires the token for id, runs fn, and releases the
// token on every exit path. Acquisition never blocks: if another lifecycle
// operation holds the token, ErrAlreadyInProgress is returned and fn does
// not run.
func (r *Registry) WithExclusiveAccess(id string, fn func(*Slot) error) error {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return serverErr(id, ErrServerNotFound)
	}
	if entry.busy {
		r.mu.Unlock()
		return serverErr(id, ErrAlreadyInProgress)
	}
	entry.busy = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		entry.busy = false
		r.mu.Unlock()
	}()
	return fn(&Slot{id: id, registry: r, entry: entry})
}

// Slot is the view of one registry entry handed to a WithExclusiveAccess
// callback. It is only valid for the duration of the callback.
type Slot struct {
	id       string
	registry *Registry
	entry    *registryEntry
}

// ID returns the server ID the slot guards.
func (s *Slot) ID() string { return s.id }

// Config returns a copy of the entry's current configuration.
func (s *Slot) Config() ServerConfig {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	return s.entry.config.Clone()
}

// State returns the entry's connection state.
func (s *Slot) State() ConnectionState {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	return s.entry.state
}

// Conn returns the attached connection, or nil.
func (s *Slot) Conn() Connection {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	return s.entry.conn
}

// SetState moves the entry to state. errMsg is kept only for StateError.
func (s *Slot) SetState(state ConnectionState, errMsg string) {
	s.registry.mu.Lock()
	from := s.entry.state
	s.entry.state = state
	if state == StateError {
		s.entry.lastErr = errMsg
	} else {
		s.entry.lastErr = ""
	}
	if state != StateConnected {
		s.entry.caps = nil
	}
	hook := s.registry.onState
	s.registry.mu.Unlock()
	if hook != nil && from != state {
		hook(s.id, from, state)
	}
}

// Attach stores conn as the entry's live connection and records its
// capabilities. Any previous connection must have been detached.
func (s *Slot) Attach(conn Connection) {
	caps := conn.Capabilities()
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	s.entry.conn = conn
	s.entry.caps = &caps
}

// Detach removes and returns the live connection, or nil.
func (s *Slot) Detach() Connection {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	conn := s.entry.conn
	s.entry.conn = nil
	return conn
}

// Unregister removes the guarded entry before the token is released, so no
// other lifecycle operation can slip in between. The connection must have
// been detached first.
func (s *Slot) Unregister() error {
	r := s.registry
	r.mu.Lock()
	if r.entries[s.id] != s.entry {
		r.mu.Unlock()
		return serverErr(s.id, ErrServerNotFound)
	}
	if s.entry.conn != nil {
		r.mu.Unlock()
		return serverErr(s.id, ErrServerBusy)
	}
	r.removeLocked(s.id)
	state := s.entry.state
	hook := r.onState
	r.mu.Unlock()
	if hook != nil {
		hook(s.id, state, "")
	}
	return nil
}
