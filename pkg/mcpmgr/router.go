package mcpmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Routed calls look up the live connection for a server, apply CallTimeout,
// and return the server's response unchanged. They never modify connection
// state; a failing call leaves the server connected.

// ListResources proxies resources/list to serverID.
func (m *Manager) ListResources(ctx context.Context, serverID string, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	var res *mcp.ListResourcesResult
	err := m.route(ctx, serverID, "resources/list", nil, func(ctx context.Context, conn Connection) (err error) {
		res, err = conn.ListResources(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.log.Record(serverID, SeverityDebug, fmt.Sprintf("Fetched %d resource(s)", len(res.Resources)), nil)
	return res, nil
}

// ListPrompts proxies prompts/list to serverID.
func (m *Manager) ListPrompts(ctx context.Context, serverID string, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	var res *mcp.ListPromptsResult
	err := m.route(ctx, serverID, "prompts/list", nil, func(ctx context.Context, conn Connection) (err error) {
		res, err = conn.ListPrompts(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.log.Record(serverID, SeverityDebug, fmt.Sprintf("Fetched %d prompt(s)", len(res.Prompts)), nil)
	return res, nil
}

// ListTools proxies tools/list to serverID.
func (m *Manager) ListTools(ctx context.Context, serverID string, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	var res *mcp.ListToolsResult
	err := m.route(ctx, serverID, "tools/list", nil, func(ctx context.Context, conn Connection) (err error) {
		res, err = conn.ListTools(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.log.Record(serverID, SeverityDebug, fmt.Sprintf("Fetched %d tool(s)", len(res.Tools)), nil)
	return res, nil
}

// CallTool invokes toolName on serverID with args. A result with IsError set
// is still a successful call and is returned as-is.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, args any) (*mcp.CallToolResult, error) {
	if toolName == "" {
		err := fmt.Errorf("mcpmgr: tool name is required for %q", serverID)
		m.reject(serverID, "tools/call", err)
		return nil, err
	}
	params := &mcp.CallToolParams{Name: toolName, Arguments: args}
	var res *mcp.CallToolResult
	err := m.route(ctx, serverID, "tools/call", map[string]any{"tool": toolName, "arguments": args},
		func(ctx context.Context, conn Connection) (err error) {
			res, err = conn.CallTool(ctx, params)
			return err
		})
	if err != nil {
		return nil, err
	}
	if res.IsError {
		m.log.Record(serverID, SeverityWarning, "Tool reported an error: "+toolName, res)
	} else {
		m.log.Record(serverID, SeverityInfo, "Tool call succeeded: "+toolName, res)
	}
	return res, nil
}

// GetPrompt renders promptName on serverID with args.
func (m *Manager) GetPrompt(ctx context.Context, serverID, promptName string, args map[string]string) (*mcp.GetPromptResult, error) {
	if promptName == "" {
		err := fmt.Errorf("mcpmgr: prompt name is required for %q", serverID)
		m.reject(serverID, "prompts/get", err)
		return nil, err
	}
	params := &mcp.GetPromptParams{Name: promptName, Arguments: args}
	var res *mcp.GetPromptResult
	err := m.route(ctx, serverID, "prompts/get", map[string]any{"prompt": promptName, "arguments": args},
		func(ctx context.Context, conn Connection) (err error) {
			res, err = conn.GetPrompt(ctx, params)
			return err
		})
	if err != nil {
		return nil, err
	}
	m.log.Record(serverID, SeverityInfo, "Prompt retrieved: "+promptName, res)
	return res, nil
}

// ReadResource reads the resource at uri from serverID.
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) (*mcp.ReadResourceResult, error) {
	if uri == "" {
		err := fmt.Errorf("mcpmgr: resource uri is required for %q", serverID)
		m.reject(serverID, "resources/read", err)
		return nil, err
	}
	params := &mcp.ReadResourceParams{URI: uri}
	var res *mcp.ReadResourceResult
	err := m.route(ctx, serverID, "resources/read", nil, func(ctx context.Context, conn Connection) (err error) {
		res, err = conn.ReadResource(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.log.Record(serverID, SeverityInfo, "Resource read: "+uri, map[string]any{"contents": len(res.Contents)})
	return res, nil
}

// Ping sends a protocol-level ping to serverID.
func (m *Manager) Ping(ctx context.Context, serverID string) error {
	return m.route(ctx, serverID, "ping", nil, func(ctx context.Context, conn Connection) error {
		return conn.Ping(ctx)
	})
}

// route resolves the live connection for serverID and runs call against it
// inside a span. args, when set, is logged before the call goes out. Errors
// from the connection are wrapped in *TransportError and logged.
func (m *Manager) route(ctx context.Context, serverID, method string, args any, call func(context.Context, Connection) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := m.tracer.Start(ctx, "mcp "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("mcp.server.id", serverID),
			attribute.String("mcp.method", method),
		))
	defer span.End()
	started := time.Now()

	conn, ok := m.registry.Get(serverID)
	if !ok {
		err := m.notConnected(serverID)
		m.log.Record(serverID, SeverityWarning, fmt.Sprintf("Cannot %s: %v", method, err), errorData(err))
		m.opts.Metrics.call(method, started, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if args != nil {
		m.log.Record(serverID, SeverityInfo, "Calling "+method, args)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
	defer cancel()
	err := safeCall(callCtx, conn, call)
	m.opts.Metrics.call(method, started, err)
	if err != nil {
		terr := &TransportError{ServerID: serverID, Op: method, Err: err}
		m.log.Record(serverID, SeverityError, fmt.Sprintf("%s failed: %v", method, err), errorData(terr))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return terr
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func safeCall(ctx context.Context, conn Connection, call func(context.Context, Connection) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("call panicked: %v", r)
		}
	}()
	return call(ctx, conn)
}

// notConnected returns an error matching ErrServerNotConnected, and also
// ErrServerNotFound when the ID is not registered at all.
func (m *Manager) notConnected(serverID string) error {
	if !m.registry.Has(serverID) {
		return fmt.Errorf("mcpmgr: server %q: %w: %w", serverID, ErrServerNotConnected, ErrServerNotFound)
	}
	return serverErr(serverID, ErrServerNotConnected)
}
