package mcpmgr

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Binder opens channels to MCP servers. Implementations decide how each
// transport kind is dialed; SDKBinder is the production implementation.
type Binder interface {
	// Open establishes a connection for cfg. ctx bounds establishment only;
	// the returned Connection must keep working after ctx ends. It must not
	// return a non-nil Connection together with an error.
	Open(ctx context.Context, cfg ServerConfig) (Connection, error)
}

// BinderFunc adapts a function to the Binder interface.
type BinderFunc func(ctx context.Context, cfg ServerConfig) (Connection, error)

func (f BinderFunc) Open(ctx context.Context, cfg ServerConfig) (Connection, error) {
	return f(ctx, cfg)
}

// Connection is a live channel to one MCP server. It is owned by the
// Registry entry of its server and closed before that entry changes hands.
type Connection interface {
	ListResources(ctx context.Context, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error)
	ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error)
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error)
	ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error)
	Ping(ctx context.Context) error

	// Capabilities reports the feature families advertised at initialization.
	Capabilities() Capabilities
	// Done is closed once the underlying channel has terminated, whether
	// through Close or because the peer went away.
	Done() <-chan struct{}
	// Close tears down the protocol session and the transport. It is best
	// effort: transport resources are released even if the protocol-level
	// shutdown fails.
	Close() error
}
