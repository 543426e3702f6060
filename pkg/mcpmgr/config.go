package mcpmgr

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// TransportConfig is implemented by the transport-specific payloads of a
// ServerConfig. The set of implementations is closed: *StdioConfig,
// *SSEConfig and *HTTPConfig.
type TransportConfig interface {
	Kind() ConfigTransport
	validate() error
	clone() TransportConfig
}

// StdioConfig launches an MCP server as a local subprocess speaking over
// stdin/stdout.
type StdioConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

func (c *StdioConfig) Kind() ConfigTransport { return TransportStdio }

func (c *StdioConfig) validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("%w: stdio command is required", ErrInvalidConfig)
	}
	return nil
}

func (c *StdioConfig) clone() TransportConfig {
	out := &StdioConfig{Command: c.Command, Args: slices.Clone(c.Args)}
	if c.Env != nil {
		out.Env = maps.Clone(c.Env)
	}
	return out
}

// SSEConfig reaches a remote MCP server over the legacy SSE transport.
type SSEConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (c *SSEConfig) Kind() ConfigTransport { return TransportSSE }
func (c *SSEConfig) validate() error        { return validateRemoteURL(c.URL) }
func (c *SSEConfig) clone() TransportConfig {
	return &SSEConfig{URL: c.URL, Headers: cloneStringMap(c.Headers)}
}

// HTTPConfig reaches a remote MCP server over the Streamable HTTP transport.
type HTTPConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (c *HTTPConfig) Kind() ConfigTransport { return TransportHTTP }
func (c *HTTPConfig) validate() error        { return validateRemoteURL(c.URL) }
func (c *HTTPConfig) clone() TransportConfig {
	return &HTTPConfig{URL: c.URL, Headers: cloneStringMap(c.Headers)}
}

func validateRemoteURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: url %q: %v", ErrInvalidConfig, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url %q must be an absolute http(s) URL", ErrInvalidConfig, raw)
	}
	return nil
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// ServerConfig describes one registered MCP server. The ID is stable for the
// lifetime of the registration; every other field may be replaced through
// Manager.UpdateServer.
type ServerConfig struct {
	ID          string
	Name        string
	Description string
	Transport   TransportConfig
}

// Validate reports whether the config can be registered.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required for %q", ErrInvalidConfig, c.ID)
	}
	if c.Transport == nil {
		return fmt.Errorf("%w: transport is required for %q", ErrInvalidConfig, c.ID)
	}
	return c.Transport.validate()
}

// Clone returns a deep copy so callers cannot mutate registry state through
// shared slices or maps.
func (c ServerConfig) Clone() ServerConfig {
	out := c
	if c.Transport != nil {
		out.Transport = c.Transport.clone()
	}
	return out
}

// DisplayName returns Name, falling back to ID.
func (c ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

type serverConfigJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Transport   ConfigTransport `json:"transport"`
	Config      json.RawMessage `json:"config"`
}

type taggedPayload struct {
	Type ConfigTransport `json:"type"`
}

// MarshalJSON encodes the config in the persisted shape
// {"id","name","transport","config":{"type",...}}.
func (c ServerConfig) MarshalJSON() ([]byte, error) {
	if c.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required for %q", ErrInvalidConfig, c.ID)
	}
	kind := c.Transport.Kind()
	payload, err := json.Marshal(c.Transport)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(kind)
	fields["type"] = tag
	payload, err = json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(serverConfigJSON{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Transport:   kind,
		Config:      payload,
	})
}

// UnmarshalJSON decodes the persisted shape and rejects payloads whose type
// tag disagrees with the transport field.
func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	var raw serverConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Config) == 0 {
		return fmt.Errorf("%w: config payload missing for %q", ErrInvalidConfig, raw.ID)
	}
	var tag taggedPayload
	if err := json.Unmarshal(raw.Config, &tag); err != nil {
		return err
	}
	if tag.Type != "" && tag.Type != raw.Transport {
		return fmt.Errorf("%w: transport %q does not match config type %q for %q",
			ErrInvalidConfig, raw.Transport, tag.Type, raw.ID)
	}
	var transport TransportConfig
	switch raw.Transport {
	case TransportStdio:
		transport = &StdioConfig{}
	case TransportSSE:
		transport = &SSEConfig{}
	case TransportHTTP:
		transport = &HTTPConfig{}
	default:
		return fmt.Errorf("%w: unknown transport %q for %q", ErrInvalidConfig, raw.Transport, raw.ID)
	}
	if err := json.Unmarshal(raw.Config, transport); err != nil {
		return err
	}
	*c = ServerConfig{
		ID:          raw.ID,
		Name:        raw.Name,
		Description: raw.Description,
		Transport:   transport,
	}
	return nil
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// Store supplies the initial configurations and receives the full set
	// after every add, update, or remove. Defaults to an empty MemoryStore.
	Store ConfigStore
	// Log receives lifecycle and call events. A new EventLog is created when nil.
	Log *EventLog
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics records connection state and call outcomes. Optional.
	Metrics *Metrics
	// TracerProvider creates spans for routed calls. Defaults to the global provider.
	TracerProvider trace.TracerProvider
	// ConnectTimeout bounds Binder.Open. Defaults to 30s.
	ConnectTimeout time.Duration
	// CloseTimeout bounds Connection.Close during disconnect and cleanup. Defaults to 10s.
	CloseTimeout time.Duration
	// CallTimeout bounds each routed protocol call. Defaults to 60s.
	CallTimeout time.Duration
	// AutoConnect dials every loaded server in the background after construction.
	AutoConnect bool
}

func (o *ManagerOptions) withDefaults() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{}
	}
	opts := *o
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Log == nil {
		opts.Log = NewEventLog(opts.Logger)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 10 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	return opts
}
