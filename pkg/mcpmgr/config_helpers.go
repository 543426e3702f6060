package mcpmgr

// Lightweight helpers for narrowing and inspecting ServerConfig values without
// forcing consumers to use a type switch at every call site.

// ConfigTransport identifies the transport family used by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio ConfigTransport = "stdio"
	TransportSSE   ConfigTransport = "sse"
	TransportHTTP  ConfigTransport = "http"
)

// ParseTransport maps a user-supplied transport name to a ConfigTransport.
// "streamable-http" is accepted as an alias for http.
func ParseTransport(s string) (ConfigTransport, bool) {
	switch s {
	case "stdio":
		return TransportStdio, true
	case "sse":
		return TransportSSE, true
	case "http", "streamable-http":
		return TransportHTTP, true
	default:
		return "", false
	}
}

// TransportOf returns the transport kind for a ServerConfig.
// Returns an empty string when the config carries no transport payload.
func TransportOf(cfg ServerConfig) ConfigTransport {
	if cfg.Transport == nil {
		return ""
	}
	return cfg.Transport.Kind()
}

// IsStdio reports whether cfg launches a local subprocess.
func IsStdio(cfg ServerConfig) bool {
	_, ok := cfg.Transport.(*StdioConfig)
	return ok
}

// IsSSE reports whether cfg uses the SSE transport.
func IsSSE(cfg ServerConfig) bool {
	_, ok := cfg.Transport.(*SSEConfig)
	return ok
}

// IsHTTP reports whether cfg uses the Streamable HTTP transport.
func IsHTTP(cfg ServerConfig) bool {
	_, ok := cfg.Transport.(*HTTPConfig)
	return ok
}

// AsStdio narrows cfg to its *StdioConfig payload, returning (nil, false)
// when it does not match.
func AsStdio(cfg ServerConfig) (*StdioConfig, bool) {
	c, ok := cfg.Transport.(*StdioConfig)
	return c, ok
}

// AsSSE narrows cfg to its *SSEConfig payload.
func AsSSE(cfg ServerConfig) (*SSEConfig, bool) {
	c, ok := cfg.Transport.(*SSEConfig)
	return c, ok
}

// AsHTTP narrows cfg to its *HTTPConfig payload.
func AsHTTP(cfg ServerConfig) (*HTTPConfig, bool) {
	c, ok := cfg.Transport.(*HTTPConfig)
	return c, ok
}

// RemoteURL returns the endpoint for sse/http configs and "" for stdio.
func RemoteURL(cfg ServerConfig) string {
	switch c := cfg.Transport.(type) {
	case *SSEConfig:
		return c.URL
	case *HTTPConfig:
		return c.URL
	default:
		return ""
	}
}

// RemoteHeaders returns the static headers for sse/http configs.
func RemoteHeaders(cfg ServerConfig) map[string]string {
	switch c := cfg.Transport.(type) {
	case *SSEConfig:
		return c.Headers
	case *HTTPConfig:
		return c.Headers
	default:
		return nil
	}
}
