package mcpmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type fakeConn struct {
	caps     Capabilities
	closeErr error
	// closeGate, when set, blocks Close until it is closed.
	closeGate chan struct{}
	callErr   error

	closes   atomic.Int32
	done     chan struct{}
	doneOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		caps: Capabilities{Tools: true, Prompts: true, Resources: true},
		done: make(chan struct{}),
	}
}

// die simulates the peer going away.
func (c *fakeConn) die() { c.doneOnce.Do(func() { close(c.done) }) }

func (c *fakeConn) ListResources(context.Context, *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	if c.callErr != nil {
		return nil, c.callErr
	}
	return &mcp.ListResourcesResult{Resources: []*mcp.Resource{{URI: "file:///a", Name: "a"}}}, nil
}

func (c *fakeConn) ListPrompts(context.Context, *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	if c.callErr != nil {
		return nil, c.callErr
	}
	return &mcp.ListPromptsResult{Prompts: []*mcp.Prompt{{Name: "greet"}}}, nil
}

func (c *fakeConn) ListTools(context.Context, *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	if c.callErr != nil {
		return nil, c.callErr
	}
	return &mcp.ListToolsResult{Tools: []*mcp.Tool{{Name: "echo"}, {Name: "read_file"}}}, nil
}

func (c *fakeConn) CallTool(_ context.Context, p *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	if c.callErr != nil {
		return nil, c.callErr
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "called " + p.Name}}}, nil
}

func (c *fakeConn) GetPrompt(_ context.Context, p *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	if c.callErr != nil {
		return nil, c.callErr
	}
	return &mcp.GetPromptResult{Description: "prompt " + p.Name}, nil
}

func (c *fakeConn) ReadResource(_ context.Context, p *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	if c.callErr != nil {
		return nil, c.callErr
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{URI: p.URI, Text: "hello"}}}, nil
}

func (c *fakeConn) Ping(context.Context) error { return c.callErr }

func (c *fakeConn) Capabilities() Capabilities { return c.caps }

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() error {
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.closes.Add(1)
	c.die()
	return c.closeErr
}

// fakeBinder hands out fakeConns. Per-ID behaviour is configured through
// errs (fail Open) and gates (block Open until closed).
type fakeBinder struct {
	mu      sync.Mutex
	errs    map[string]error
	gates   map[string]chan struct{}
	entered map[string]chan struct{}
	conns   map[string][]*fakeConn
	opens   atomic.Int32
	prepare func(*fakeConn)
}

func newFakeBinder() *fakeBinder {
	return &fakeBinder{
		errs:    map[string]error{},
		gates:   map[string]chan struct{}{},
		entered: map[string]chan struct{}{},
		conns:   map[string][]*fakeConn{},
	}
}

// hold makes the next Open for id block until the returned release func is
// called. The entered channel is closed once Open has started.
func (b *fakeBinder) hold(id string) (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	in := make(chan struct{})
	b.mu.Lock()
	b.gates[id] = gate
	b.entered[id] = in
	b.mu.Unlock()
	var once sync.Once
	return in, func() { once.Do(func() { close(gate) }) }
}

func (b *fakeBinder) fail(id string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[id] = err
}

func (b *fakeBinder) last(id string) *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	conns := b.conns[id]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func (b *fakeBinder) Open(ctx context.Context, cfg ServerConfig) (Connection, error) {
	b.opens.Add(1)
	b.mu.Lock()
	gate, entered := b.gates[cfg.ID], b.entered[cfg.ID]
	delete(b.gates, cfg.ID)
	delete(b.entered, cfg.ID)
	err := b.errs[cfg.ID]
	b.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	conn := newFakeConn()
	if b.prepare != nil {
		b.prepare(conn)
	}
	b.mu.Lock()
	b.conns[cfg.ID] = append(b.conns[cfg.ID], conn)
	b.mu.Unlock()
	return conn, nil
}

type failingStore struct {
	loadErr error
	saveErr error
	saves   atomic.Int32
}

func (s *failingStore) LoadAll(context.Context) ([]ServerConfig, error) {
	return nil, s.loadErr
}

func (s *failingStore) SaveAll(context.Context, []ServerConfig) error {
	s.saves.Add(1)
	return s.saveErr
}

var errSpawn = errors.New("spawn failed: executable file not found")

func stdioServer(id, name string) ServerConfig {
	return ServerConfig{
		ID:        id,
		Name:      name,
		Transport: &StdioConfig{Command: "mcp-fs", Args: []string{"/tmp"}},
	}
}

func httpServer(id, name, url string) ServerConfig {
	return ServerConfig{ID: id, Name: name, Transport: &HTTPConfig{URL: url}}
}

func countEntries(log *EventLog, serverID string, sev Severity) int {
	n := 0
	for e := range log.Query(Filter{ServerID: serverID}) {
		if e.Severity == sev {
			n++
		}
	}
	return n
}
