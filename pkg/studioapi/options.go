package studioapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Options configure a Server instance.
type Options struct {
	// Addr controls the listen address used by ListenAndServe. Defaults to "127.0.0.1:7410".
	Addr string
	// AllowedOrigins lists browser origins permitted by CORS. Empty disables
	// cross-origin access; "*" allows any origin.
	AllowedOrigins []string
	// Gatherer backs the /metrics endpoint. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// ShutdownTimeout bounds graceful shutdown when the ListenAndServe context ends.
	ShutdownTimeout time.Duration
	// StreamBuffer sizes the per-client buffer of the live log stream.
	StreamBuffer int
	// MCPHandler, when set, is mounted at MCPPath, typically the Streamable
	// endpoint of an mcpgateway.Gateway.
	MCPHandler http.Handler
	// MCPPath defaults to "/mcp".
	MCPPath string
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:7410"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = 256
	}
	if opts.MCPPath == "" {
		opts.MCPPath = "/mcp"
	}
	if !strings.HasPrefix(opts.MCPPath, "/") {
		opts.MCPPath = "/" + opts.MCPPath
	}
	opts.AllowedOrigins = append([]string(nil), opts.AllowedOrigins...)
	return opts
}
