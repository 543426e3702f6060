package mcpgateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-studio-go/pkg/mcpmgr"
)

// Gateway serves a Streamable MCP endpoint that mirrors the tools, prompts
// and resources of every connected server managed by an mcpmgr.Manager.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	features *featureIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler

	// syncMu serializes synchronization so a late sync cannot resurrect the
	// features of a server that has since disconnected.
	syncMu sync.Mutex

	// pending counts background syncs; idle is signalled when it drops to
	// zero. Unlike a WaitGroup it may grow while Wait is blocked.
	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond
}

// New builds a Gateway, synchronizes every server that is already
// connected, and follows later state changes of mgr.
func New(ctx context.Context, mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	g := &Gateway{
		manager:  mgr,
		opts:     options,
		features: newFeatureIndex(options.Namespace),
	}
	g.idle = sync.NewCond(&g.pendingMu)
	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:     true,
		HasPrompts:   true,
		HasResources: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)

	mgr.OnStateChange(g.handleStateChange)
	mgr.OnServerRemoved(func(serverID string) {
		g.async(func() { g.drop(serverID) })
	})

	g.SyncAll(ctx)
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.streamHandler
}

// Wait blocks until no background synchronization is pending, including
// ones started while Wait was blocked.
func (g *Gateway) Wait() {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	for g.pending > 0 {
		g.idle.Wait()
	}
}

// ListChanged resynchronizes serverID after it announced a feature list
// change. It matches the signature of mcpmgr.SDKBinderOptions.ListChanged.
func (g *Gateway) ListChanged(serverID, _ string) {
	g.async(func() { g.logError("sync after list change", g.SyncServer(context.Background(), serverID), "server", serverID) })
}

// SyncAll refreshes every known server.
func (g *Gateway) SyncAll(ctx context.Context) {
	for _, serverID := range g.manager.ListServers() {
		g.logError("sync server", g.SyncServer(ctx, serverID), "server", serverID)
	}
}

// SyncServer refreshes the tools, prompts and resources exposed for
// serverID. A server that is not connected has everything removed.
func (g *Gateway) SyncServer(ctx context.Context, serverID string) error {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()

	summary, err := g.manager.Server(serverID)
	if err != nil || summary.State != mcpmgr.StateConnected {
		g.dropLocked(serverID)
		return nil
	}
	caps := summary.Capabilities
	if caps == nil {
		caps = &mcpmgr.Capabilities{Tools: true, Prompts: true, Resources: true}
	}

	var tools []*mcp.Tool
	if caps.Tools {
		res, err := withTimeout(ctx, g.opts.SyncTimeout, func(ctx context.Context) (*mcp.ListToolsResult, error) {
			return g.manager.ListTools(ctx, serverID, nil)
		})
		if err != nil {
			return err
		}
		if res != nil {
			tools = res.Tools
		}
	}
	var prompts []*mcp.Prompt
	if caps.Prompts {
		res, err := withTimeout(ctx, g.opts.SyncTimeout, func(ctx context.Context) (*mcp.ListPromptsResult, error) {
			return g.manager.ListPrompts(ctx, serverID, nil)
		})
		if err != nil {
			return err
		}
		if res != nil {
			prompts = res.Prompts
		}
	}
	var resources []*mcp.Resource
	if caps.Resources {
		res, err := withTimeout(ctx, g.opts.SyncTimeout, func(ctx context.Context) (*mcp.ListResourcesResult, error) {
			return g.manager.ListResources(ctx, serverID, nil)
		})
		if err != nil {
			return err
		}
		if res != nil {
			resources = res.Resources
		}
	}

	removedTools, addedTools := g.features.UpdateTools(serverID, tools)
	if len(removedTools) > 0 {
		g.server.RemoveTools(removedTools...)
	}
	for _, reg := range addedTools {
		g.register("tool", reg.Target, func() { g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target)) })
	}

	removedPrompts, addedPrompts := g.features.UpdatePrompts(serverID, prompts)
	if len(removedPrompts) > 0 {
		g.server.RemovePrompts(removedPrompts...)
	}
	for _, reg := range addedPrompts {
		g.register("prompt", reg.Target, func() { g.server.AddPrompt(reg.Prompt, g.makePromptHandler(reg.Target)) })
	}

	removedResources, addedResources := g.features.UpdateResources(serverID, resources)
	if len(removedResources) > 0 {
		g.server.RemoveResources(removedResources...)
	}
	for _, reg := range addedResources {
		g.register("resource", reg.Target, func() { g.server.AddResource(reg.Resource, g.makeResourceHandler(reg.Target)) })
	}

	g.opts.Logger.Debug("gateway synchronized server", "server", serverID,
		"tools", len(addedTools), "prompts", len(addedPrompts), "resources", len(addedResources))
	return nil
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return call(ctx)
}

// register adds one item to the MCP server. The SDK panics on invalid
// definitions such as a tool whose schema is not an object, so a bad
// upstream item is logged and skipped.
func (g *Gateway) register(kind string, target feature, add func()) {
	defer func() {
		if r := recover(); r != nil {
			g.opts.Logger.Warn("gateway skipped upstream "+kind, "server", target.ServerID, "name", target.Native, "reason", r)
		}
	}()
	add()
}

func (g *Gateway) handleStateChange(serverID string, from, to mcpmgr.ConnectionState) {
	switch {
	case to == mcpmgr.StateConnected:
		g.async(func() { g.logError("sync server", g.SyncServer(context.Background(), serverID), "server", serverID) })
	case from == mcpmgr.StateConnected:
		g.async(func() { g.drop(serverID) })
	}
}

func (g *Gateway) async(fn func()) {
	g.pendingMu.Lock()
	g.pending++
	g.pendingMu.Unlock()
	go func() {
		defer func() {
			g.pendingMu.Lock()
			g.pending--
			if g.pending == 0 {
				g.idle.Broadcast()
			}
			g.pendingMu.Unlock()
		}()
		fn()
	}()
}

// drop removes serverID's features unless it has reconnected meanwhile, in
// which case the sync triggered by that reconnect owns them.
func (g *Gateway) drop(serverID string) {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()
	if summary, err := g.manager.Server(serverID); err == nil && summary.State == mcpmgr.StateConnected {
		return
	}
	g.dropLocked(serverID)
}

func (g *Gateway) dropLocked(serverID string) {
	r := g.features.RemoveServer(serverID)
	if r.empty() {
		return
	}
	if len(r.Tools) > 0 {
		g.server.RemoveTools(r.Tools...)
	}
	if len(r.Prompts) > 0 {
		g.server.RemovePrompts(r.Prompts...)
	}
	if len(r.Resources) > 0 {
		g.server.RemoveResources(r.Resources...)
	}
	g.opts.Logger.Debug("gateway removed server features", "server", serverID)
}

func (g *Gateway) makeToolHandler(target feature) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args any
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			args = req.Params.Arguments
		}
		return g.manager.CallTool(ctx, target.ServerID, target.Native, args)
	}
}

func (g *Gateway) makePromptHandler(target feature) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return g.manager.GetPrompt(ctx, target.ServerID, target.Native, args)
	}
}

func (g *Gateway) makeResourceHandler(target feature) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		res, err := g.manager.ReadResource(ctx, target.ServerID, target.Native)
		if err != nil {
			return nil, err
		}
		// Downstream clients asked for the exposed URI, so report contents under it.
		out := *res
		out.Contents = make([]*mcp.ResourceContents, 0, len(res.Contents))
		for _, c := range res.Contents {
			if c == nil {
				continue
			}
			cp := *c
			if cp.URI == target.Native {
				cp.URI = target.Exposed
			}
			out.Contents = append(out.Contents, &cp)
		}
		return &out, nil
	}
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
