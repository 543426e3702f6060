package mcpmgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, binder Binder, opts *ManagerOptions) *Manager {
	t.Helper()
	if opts == nil {
		opts = &ManagerOptions{}
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	m := NewManager(context.Background(), binder, opts)
	t.Cleanup(func() { m.Cleanup(context.Background()) })
	return m
}

func requireState(t *testing.T, m *Manager, id string, want ConnectionState) ServerSummary {
	t.Helper()
	s, err := m.Server(id)
	require.NoError(t, err)
	require.Equal(t, want, s.State)
	return s
}

func TestManagerScenarioWalkthrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)

	// A: register and connect.
	require.NoError(t, m.AddServer(ctx, ServerConfig{
		ID:        "fs",
		Name:      "fs",
		Transport: &StdioConfig{Command: "node", Args: []string{"server.js"}},
	}))
	require.NoError(t, m.Connect(ctx, "fs"))
	s := requireState(t, m, "fs", StateConnected)
	require.NotNil(t, s.Capabilities)
	require.True(t, s.Capabilities.Tools)
	require.Equal(t, 1, countEntries(m.Log(), "fs", SeverityInfo))

	// B: second connect while connected.
	err := m.Connect(ctx, "fs")
	require.ErrorIs(t, err, ErrAlreadyConnected)
	require.Equal(t, int32(1), binder.opens.Load())
	requireState(t, m, "fs", StateConnected)

	// C: disconnect.
	require.NoError(t, m.Disconnect(ctx, "fs"))
	s = requireState(t, m, "fs", StateDisconnected)
	require.Nil(t, s.Capabilities)
	_, live := m.Registry().Get("fs")
	require.False(t, live)
	require.Equal(t, int32(1), binder.last("fs").closes.Load())

	// D: call while disconnected.
	_, err = m.CallTool(ctx, "fs", "list_files", map[string]any{})
	require.ErrorIs(t, err, ErrServerNotConnected)
	require.NotErrorIs(t, err, ErrServerNotFound)

	// E: remove a never-connected server.
	require.NoError(t, m.AddServer(ctx, stdioServer("ghost", "Ghost")))
	opensBefore := binder.opens.Load()
	require.NoError(t, m.RemoveServer(ctx, "ghost"))
	require.False(t, m.HasServer("ghost"))
	require.Equal(t, opensBefore, binder.opens.Load())
	require.Nil(t, binder.last("ghost"))
}

func TestManagerAddServerValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(t, newFakeBinder(), nil)

	cases := map[string]ServerConfig{
		"missing id":        {Name: "x", Transport: &StdioConfig{Command: "x"}},
		"missing name":      {ID: "x", Transport: &StdioConfig{Command: "x"}},
		"missing transport": {ID: "x", Name: "x"},
		"empty command":     {ID: "x", Name: "x", Transport: &StdioConfig{}},
		"relative url":      {ID: "x", Name: "x", Transport: &SSEConfig{URL: "/sse"}},
		"bad scheme":        {ID: "x", Name: "x", Transport: &HTTPConfig{URL: "ftp://host/mcp"}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, m.AddServer(ctx, cfg), ErrInvalidConfig)
		})
	}
	require.Empty(t, m.ListServers())

	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))
	require.ErrorIs(t, m.AddServer(ctx, stdioServer("a", "A again")), ErrDuplicateServer)
	require.Equal(t, []string{"a"}, m.ListServers())
}

func TestManagerDisconnectIsNoopWhenDisconnected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(t, newFakeBinder(), nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))

	before := m.Log().Len()
	require.NoError(t, m.Disconnect(ctx, "a"))
	requireState(t, m, "a", StateDisconnected)
	require.Equal(t, before, m.Log().Len())
	require.Zero(t, countEntries(m.Log(), "a", SeverityError))

	require.ErrorIs(t, m.Disconnect(ctx, "missing"), ErrServerNotFound)
}

func TestManagerFailedConnectIsNotSticky(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))

	binder.fail("a", errSpawn)
	err := m.Connect(ctx, "a")
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "a", terr.ServerID)
	require.ErrorIs(t, err, errSpawn)

	s := requireState(t, m, "a", StateError)
	require.NotEmpty(t, s.Error)
	_, live := m.Registry().Get("a")
	require.False(t, live)
	require.Equal(t, 1, countEntries(m.Log(), "a", SeverityError))

	binder.fail("a", nil)
	require.NoError(t, m.Connect(ctx, "a"))
	s = requireState(t, m, "a", StateConnected)
	require.Empty(t, s.Error)
}

func TestManagerDisconnectFromErrorState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))
	binder.fail("a", errSpawn)
	require.Error(t, m.Connect(ctx, "a"))

	require.NoError(t, m.Disconnect(ctx, "a"))
	s := requireState(t, m, "a", StateDisconnected)
	require.Empty(t, s.Error)
}

func TestManagerRemoveClosesLiveConnection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))
	require.NoError(t, m.Connect(ctx, "a"))
	conn := binder.last("a")

	var removed []string
	m.OnServerRemoved(func(id string) { removed = append(removed, id) })

	require.NoError(t, m.RemoveServer(ctx, "a"))
	require.Equal(t, int32(1), conn.closes.Load())
	require.False(t, m.HasServer("a"))
	require.Equal(t, []string{"a"}, removed)

	_, err := m.Server("a")
	require.ErrorIs(t, err, ErrServerNotFound)
	require.ErrorIs(t, m.RemoveServer(ctx, "a"), ErrServerNotFound)
}

func TestManagerCloseErrorDoesNotBlockTransition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	binder.prepare = func(c *fakeConn) { c.closeErr = errors.New("broken pipe") }
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))
	require.NoError(t, m.Connect(ctx, "a"))

	require.NoError(t, m.Disconnect(ctx, "a"))
	requireState(t, m, "a", StateDisconnected)
	require.Equal(t, 1, countEntries(m.Log(), "a", SeverityError))
}

func TestManagerCloseTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gate := make(chan struct{})
	defer close(gate)
	binder := newFakeBinder()
	binder.prepare = func(c *fakeConn) { c.closeGate = gate }
	m := newTestManager(t, binder, &ManagerOptions{CloseTimeout: 20 * time.Millisecond})
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))
	require.NoError(t, m.Connect(ctx, "a"))

	start := time.Now()
	require.NoError(t, m.Disconnect(ctx, "a"))
	require.Less(t, time.Since(start), 2*time.Second)
	requireState(t, m, "a", StateDisconnected)
}

func TestManagerConcurrentConnectSameServer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))

	entered, release := binder.hold("a")
	first := make(chan error, 1)
	go func() { first <- m.Connect(ctx, "a") }()
	<-entered

	requireState(t, m, "a", StateConnecting)
	require.ErrorIs(t, m.Connect(ctx, "a"), ErrAlreadyInProgress)
	require.ErrorIs(t, m.Disconnect(ctx, "a"), ErrAlreadyInProgress)
	require.ErrorIs(t, m.RemoveServer(ctx, "a"), ErrAlreadyInProgress)

	release()
	require.NoError(t, <-first)
	requireState(t, m, "a", StateConnected)
	require.Equal(t, int32(1), binder.opens.Load())
}

func TestManagerConcurrentConnectDifferentServers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("slow", "Slow")))
	require.NoError(t, m.AddServer(ctx, stdioServer("fast", "Fast")))

	entered, release := binder.hold("slow")
	defer release()
	slow := make(chan error, 1)
	go func() { slow <- m.Connect(ctx, "slow") }()
	<-entered

	require.NoError(t, m.Connect(ctx, "fast"))
	requireState(t, m, "fast", StateConnected)
	requireState(t, m, "slow", StateConnecting)

	release()
	require.NoError(t, <-slow)
}

func TestManagerAtMostOneLiveConnection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch i % 3 {
			case 0:
				_ = m.Connect(ctx, "a")
			case 1:
				_ = m.Disconnect(ctx, "a")
			default:
				_ = m.Reconnect(ctx, "a")
			}
		}()
	}
	wg.Wait()

	binder.mu.Lock()
	conns := append([]*fakeConn(nil), binder.conns["a"]...)
	binder.mu.Unlock()

	open := 0
	for _, c := range conns {
		if c.closes.Load() == 0 {
			open++
		}
	}
	require.LessOrEqual(t, open, 1)
	if live, ok := m.Registry().Get("a"); ok {
		require.Same(t, conns[len(conns)-1], live)
	}
}

func TestManagerReconnectReplacesConnection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))
	require.NoError(t, m.Connect(ctx, "a"))
	first := binder.last("a")

	require.NoError(t, m.Reconnect(ctx, "a"))
	second := binder.last("a")
	require.NotSame(t, first, second)
	require.Equal(t, int32(1), first.closes.Load())
	live, ok := m.Registry().Get("a")
	require.True(t, ok)
	require.Same(t, second, live)
}

func TestManagerUpdateServerKeepsConnection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))
	require.NoError(t, m.Connect(ctx, "a"))

	updated := stdioServer("a", "Renamed")
	updated.Transport = &StdioConfig{Command: "other"}
	require.NoError(t, m.UpdateServer(ctx, updated))

	s := requireState(t, m, "a", StateConnected)
	require.Equal(t, "Renamed", s.Config.Name)
	require.Equal(t, int32(1), binder.opens.Load())
	require.Zero(t, binder.last("a").closes.Load())

	require.ErrorIs(t, m.UpdateServer(ctx, stdioServer("missing", "M")), ErrServerNotFound)
	require.ErrorIs(t, m.UpdateServer(ctx, ServerConfig{ID: "a", Name: "A"}), ErrInvalidConfig)
}

func TestManagerDetectsConnectionLoss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))
	require.NoError(t, m.Connect(ctx, "a"))

	binder.last("a").die()
	require.Eventually(t, func() bool {
		s, err := m.Server("a")
		return err == nil && s.State == StateError
	}, 2*time.Second, 10*time.Millisecond)

	s, _ := m.Server("a")
	require.Equal(t, "connection closed unexpectedly", s.Error)
	_, live := m.Registry().Get("a")
	require.False(t, live)

	require.NoError(t, m.Connect(ctx, "a"))
	requireState(t, m, "a", StateConnected)
}

func TestManagerPersistsEveryConfigChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	m := newTestManager(t, newFakeBinder(), &ManagerOptions{Store: store})

	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))
	require.NoError(t, m.AddServer(ctx, httpServer("b", "B", "https://example.com/mcp")))
	require.NoError(t, m.UpdateServer(ctx, stdioServer("a", "A2")))
	require.NoError(t, m.RemoveServer(ctx, "b"))
	require.Equal(t, 4, store.Saves())

	saved, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Equal(t, "A2", saved[0].Name)

	// Connection changes are not persisted.
	require.NoError(t, m.Connect(ctx, "a"))
	require.Equal(t, 4, store.Saves())
}

func TestManagerLoadsFromStore(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(
		stdioServer("a", "A"),
		httpServer("b", "B", "https://example.com/mcp"),
		ServerConfig{ID: "bad", Name: "Bad"},
		stdioServer("a", "duplicate"),
	)
	m := newTestManager(t, newFakeBinder(), &ManagerOptions{Store: store})

	require.Equal(t, []string{"a", "b"}, m.ListServers())
	for _, s := range m.Servers() {
		require.Equal(t, StateDisconnected, s.State)
	}
	var loaded bool
	for e := range m.Log().Query(Filter{ServerID: SystemServerID, MinSeverity: SeverityInfo}) {
		if e.Message == "Loaded 2 server configuration(s) from storage" {
			loaded = true
		}
	}
	require.True(t, loaded)
}

func TestManagerStoreFailuresAreLogged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &failingStore{loadErr: errors.New("disk gone"), saveErr: errors.New("read-only fs")}
	metrics := NewMetrics(nil)
	m := newTestManager(t, newFakeBinder(), &ManagerOptions{Store: store, Metrics: metrics})

	require.Empty(t, m.ListServers())
	require.Equal(t, 1, countEntries(m.Log(), SystemServerID, SeverityError))

	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))
	require.True(t, m.HasServer("a"))
	require.Equal(t, int32(1), store.saves.Load())
	require.Equal(t, 2, countEntries(m.Log(), SystemServerID, SeverityError))

	var found bool
	for e := range m.Log().Query(Filter{ServerID: SystemServerID, MinSeverity: SeverityError}) {
		if data, ok := e.Data.(map[string]any); ok && data["error"] == "mcpmgr: config save failed: read-only fs" {
			found = true
		}
	}
	require.True(t, found)
}

func TestManagerAutoConnect(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(stdioServer("a", "A"), stdioServer("b", "B"))
	m := newTestManager(t, newFakeBinder(), &ManagerOptions{Store: store, AutoConnect: true})

	require.Eventually(t, func() bool {
		for _, s := range m.Servers() {
			if s.State != StateConnected {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerCleanupDisconnectsAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := NewManager(ctx, binder, &ManagerOptions{Logger: quietLogger()})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.AddServer(ctx, stdioServer(id, id)))
		require.NoError(t, m.Connect(ctx, id))
	}

	m.Cleanup(ctx)
	for _, s := range m.Servers() {
		require.Equal(t, StateDisconnected, s.State)
	}
	for _, id := range []string{"a", "b", "c"} {
		require.Equal(t, int32(1), binder.last(id).closes.Load())
	}
}

func TestManagerCleanupWaitsForInFlightConnect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))

	entered, release := binder.hold("a")
	defer release()
	connected := make(chan error, 1)
	go func() { connected <- m.Connect(ctx, "a") }()
	<-entered

	cleaned := make(chan struct{})
	go func() {
		m.Cleanup(ctx)
		close(cleaned)
	}()
	select {
	case <-cleaned:
		t.Fatal("Cleanup returned while a connect was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	release()
	require.NoError(t, <-connected)
	select {
	case <-cleaned:
	case <-time.After(2 * time.Second):
		t.Fatal("Cleanup did not finish after the connect completed")
	}

	_, live := m.Registry().Get("a")
	require.False(t, live)
	requireState(t, m, "a", StateDisconnected)
	require.Equal(t, int32(1), binder.last("a").closes.Load())
}

func TestManagerCleanupGivesUpWhenContextEnds(t *testing.T) {
	t.Parallel()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(context.Background(), stdioServer("a", "A")))

	entered, release := binder.hold("a")
	defer release()
	go func() { _ = m.Connect(context.Background(), "a") }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	m.Cleanup(ctx)
	require.Equal(t, 1, countEntries(m.Log(), "a", SeverityError))
}

func TestManagerRemoveRacingConnect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)

	for range 25 {
		require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if errors.Is(m.Connect(ctx, "a"), ErrServerNotFound) {
					return
				}
				_ = m.Disconnect(ctx, "a")
			}
		}()

		for {
			err := m.RemoveServer(ctx, "a")
			if err == nil {
				break
			}
			require.ErrorIs(t, err, ErrAlreadyInProgress)
		}
		close(stop)
		wg.Wait()
		require.False(t, m.HasServer("a"))
	}

	binder.mu.Lock()
	defer binder.mu.Unlock()
	for _, conn := range binder.conns["a"] {
		require.Equal(t, int32(1), conn.closes.Load())
	}
}

func TestManagerBinderPanicBecomesError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := BinderFunc(func(context.Context, ServerConfig) (Connection, error) {
		panic("boom")
	})
	m := newTestManager(t, binder, nil)
	require.NoError(t, m.AddServer(ctx, stdioServer("a", "A")))

	err := m.Connect(ctx, "a")
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	requireState(t, m, "a", StateError)
}

func TestManagerConnectUnknownServer(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, newFakeBinder(), nil)
	require.ErrorIs(t, m.Connect(context.Background(), "nope"), ErrServerNotFound)
	require.Equal(t, 1, countEntries(m.Log(), "nope", SeverityWarning))
}

func TestManagerOnStateChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	binder := newFakeBinder()
	m := newTestManager(t, binder, nil)

	var mu sync.Mutex
	var seen []string
	m.OnStateChange(func(id string, from, to ConnectionState) {
		mu.Lock()
		seen = append(seen, id+":"+string(from)+"->"+string(to))
		mu.Unlock()
	})
	m.OnStateChange(func(string, ConnectionState, ConnectionState) { panic("ignored") })

	require.NoError(t, m.AddServer(ctx, stdioServer("fs", "Filesystem")))
	require.NoError(t, m.Connect(ctx, "fs"))
	require.NoError(t, m.Disconnect(ctx, "fs"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		"fs:->disconnected",
		"fs:disconnected->connecting",
		"fs:connecting->connected",
		"fs:connected->disconnected",
	}, seen)
}
