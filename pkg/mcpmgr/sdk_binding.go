package mcpmgr

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultClientName    = "mcp-studio"
	defaultClientVersion = "0.1.0"
)

// SDKBinderOptions configures an SDKBinder.
type SDKBinderOptions struct {
	// ClientName and ClientVersion identify this client during initialization.
	ClientName    string
	ClientVersion string
	// Log receives server log notifications, list-changed notifications and,
	// when LogJSONRPC is set, raw JSON-RPC traffic. Optional.
	Log *EventLog
	// LogJSONRPC records every JSON-RPC message into Log at debug severity.
	LogJSONRPC bool
	// RPCLogger, when set, receives JSON-RPC traffic instead of Log.
	RPCLogger RPCLogger
	// HTTPClient is the base client for the sse and http transports.
	HTTPClient *http.Client
	// AuthProvider supplies an Authorization header for remote transports
	// when the configured headers do not already carry one.
	AuthProvider HTTPAuthProvider
	// KeepAlive, when positive, pings each server at this interval and
	// closes the session when a ping fails.
	KeepAlive time.Duration
	// MaxRetries bounds reconnection attempts of the streamable transport.
	MaxRetries int
	// ListChanged, when set, is called after a server announces that its
	// tools, prompts or resources changed. feature is one of "tools",
	// "prompts" or "resources".
	ListChanged func(serverID, feature string)
}

// SDKBinder opens connections with the official MCP Go SDK.
type SDKBinder struct {
	opts SDKBinderOptions
}

// NewSDKBinder returns a Binder backed by github.com/modelcontextprotocol/go-sdk.
func NewSDKBinder(opts *SDKBinderOptions) *SDKBinder {
	var o SDKBinderOptions
	if opts != nil {
		o = *opts
	}
	if o.ClientName == "" {
		o.ClientName = defaultClientName
	}
	if o.ClientVersion == "" {
		o.ClientVersion = defaultClientVersion
	}
	return &SDKBinder{opts: o}
}

// Open implements Binder.
func (b *SDKBinder) Open(ctx context.Context, cfg ServerConfig) (Connection, error) {
	transport, err := b.buildTransport(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := b.openTransport(ctx, cfg.ID, transport)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (b *SDKBinder) buildTransport(cfg ServerConfig) (mcp.Transport, error) {
	switch c := cfg.Transport.(type) {
	case *StdioConfig:
		return buildStdioTransport(cfg.ID, c)
	case *SSEConfig:
		return &mcp.SSEClientTransport{
			Endpoint:   c.URL,
			HTTPClient: decorateHTTPClient(b.opts.HTTPClient, c.Headers, b.opts.AuthProvider),
		}, nil
	case *HTTPConfig:
		return &mcp.StreamableClientTransport{
			Endpoint:   c.URL,
			HTTPClient: decorateHTTPClient(b.opts.HTTPClient, c.Headers, b.opts.AuthProvider),
			MaxRetries: b.opts.MaxRetries,
		}, nil
	default:
		return nil, fmt.Errorf("mcpmgr: unsupported transport for %q", cfg.ID)
	}
}

func buildStdioTransport(serverID string, cfg *StdioConfig) (*mcp.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", serverID)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

// OpenTransport runs the initialize handshake over a caller-supplied
// transport, such as one half of mcp.NewInMemoryTransports, and returns the
// resulting Connection.
func (b *SDKBinder) OpenTransport(ctx context.Context, serverID string, transport mcp.Transport) (Connection, error) {
	conn, err := b.openTransport(ctx, serverID, transport)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type connectResult struct {
	session *mcp.ClientSession
	err     error
}

// openTransport runs the initialize handshake over transport. ctx bounds the
// handshake only: the sse and http transports tie their streams to the
// context given to Connect, so the session runs on a context detached from
// ctx that is cancelled when the connection closes.
func (b *SDKBinder) openTransport(ctx context.Context, serverID string, transport mcp.Transport) (*sdkConnection, error) {
	impl := &mcp.Implementation{Name: b.opts.ClientName, Version: b.opts.ClientVersion}
	client := mcp.NewClient(impl, b.clientOptions(serverID))
	if logger := b.rpcLogger(); logger != nil {
		transport = &loggingTransport{serverID: serverID, delegate: transport, logger: logger}
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	results := make(chan connectResult, 1)
	go func() {
		session, err := client.Connect(sessionCtx, transport, nil)
		results <- connectResult{session: session, err: err}
	}()

	var session *mcp.ClientSession
	select {
	case res := <-results:
		if res.err != nil {
			cancel()
			return nil, res.err
		}
		session = res.session
	case <-ctx.Done():
		cancel()
		// A handshake that completes after the deadline is closed unused.
		go func() {
			if res := <-results; res.session != nil {
				_ = res.session.Close()
			}
		}()
		return nil, ctx.Err()
	}

	conn := &sdkConnection{session: session, cancel: cancel, done: make(chan struct{})}
	if cmd, ok := transport.(*mcp.CommandTransport); ok {
		conn.cmd = cmd.Command
	} else if lt, ok := transport.(*loggingTransport); ok {
		if cmd, ok := lt.delegate.(*mcp.CommandTransport); ok {
			conn.cmd = cmd.Command
		}
	}
	if res := session.InitializeResult(); res != nil && res.Capabilities != nil {
		caps := res.Capabilities
		conn.caps = Capabilities{
			Resources: caps.Resources != nil,
			Prompts:   caps.Prompts != nil,
			Tools:     caps.Tools != nil,
		}
	}
	go func() {
		_ = session.Wait()
		cancel()
		close(conn.done)
	}()
	return conn, nil
}

func (b *SDKBinder) clientOptions(serverID string) *mcp.ClientOptions {
	opts := &mcp.ClientOptions{KeepAlive: b.opts.KeepAlive}
	log := b.opts.Log
	if log != nil {
		opts.LoggingMessageHandler = func(_ context.Context, req *mcp.LoggingMessageRequest) {
			if req == nil || req.Params == nil {
				return
			}
			p := req.Params
			msg := fmt.Sprint(p.Data)
			if p.Logger != "" {
				msg = p.Logger + ": " + msg
			}
			log.Record(serverID, severityFromLoggingLevel(p.Level), msg, p.Data)
		}
	}
	if log == nil && b.opts.ListChanged == nil {
		return opts
	}
	opts.ToolListChangedHandler = func(context.Context, *mcp.ToolListChangedRequest) {
		b.listChanged(serverID, "tools", "Server tool list changed")
	}
	opts.PromptListChangedHandler = func(context.Context, *mcp.PromptListChangedRequest) {
		b.listChanged(serverID, "prompts", "Server prompt list changed")
	}
	opts.ResourceListChangedHandler = func(context.Context, *mcp.ResourceListChangedRequest) {
		b.listChanged(serverID, "resources", "Server resource list changed")
	}
	return opts
}

func (b *SDKBinder) listChanged(serverID, feature, msg string) {
	if b.opts.Log != nil {
		b.opts.Log.Record(serverID, SeverityInfo, msg, nil)
	}
	if b.opts.ListChanged != nil {
		b.opts.ListChanged(serverID, feature)
	}
}

func severityFromLoggingLevel(level mcp.LoggingLevel) Severity {
	switch level {
	case "debug":
		return SeverityDebug
	case "info", "notice":
		return SeverityInfo
	case "warning":
		return SeverityWarning
	case "error", "critical", "alert", "emergency":
		return SeverityError
	default:
		return SeverityInfo
	}
}

// sdkConnection adapts *mcp.ClientSession to Connection.
type sdkConnection struct {
	session *mcp.ClientSession
	cmd     *exec.Cmd
	caps    Capabilities
	cancel  context.CancelFunc
	done    chan struct{}
}

func (c *sdkConnection) ListResources(ctx context.Context, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	return c.session.ListResources(ctx, params)
}

func (c *sdkConnection) ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	return c.session.ListPrompts(ctx, params)
}

func (c *sdkConnection) ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	return c.session.ListTools(ctx, params)
}

func (c *sdkConnection) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	return c.session.CallTool(ctx, params)
}

func (c *sdkConnection) GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	return c.session.GetPrompt(ctx, params)
}

func (c *sdkConnection) ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	return c.session.ReadResource(ctx, params)
}

func (c *sdkConnection) Ping(ctx context.Context) error {
	return c.session.Ping(ctx, nil)
}

func (c *sdkConnection) Capabilities() Capabilities { return c.caps }

func (c *sdkConnection) Done() <-chan struct{} { return c.done }

// Close ends the session. If the protocol-level close fails for a stdio
// server the subprocess is killed so it cannot outlive the connection.
func (c *sdkConnection) Close() error {
	err := c.session.Close()
	if err != nil && c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	c.cancel()
	return err
}
