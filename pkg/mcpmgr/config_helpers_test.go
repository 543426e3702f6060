package mcpmgr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigHelpersDirect(t *testing.T) {
	t.Parallel()

	stdio := ServerConfig{ID: "s", Name: "S", Transport: &StdioConfig{Command: "npx", Args: []string{"@modelcontextprotocol/server-everything"}}}
	sse := ServerConfig{ID: "e", Name: "E", Transport: &SSEConfig{URL: "https://example/sse", Headers: map[string]string{"A": "B"}}}
	http := ServerConfig{ID: "h", Name: "H", Transport: &HTTPConfig{URL: "https://example/mcp"}}

	require.True(t, IsStdio(stdio))
	require.False(t, IsHTTP(stdio))
	require.True(t, IsSSE(sse))
	require.True(t, IsHTTP(http))
	require.False(t, IsStdio(http))

	require.Equal(t, TransportStdio, TransportOf(stdio))
	require.Equal(t, TransportSSE, TransportOf(sse))
	require.Equal(t, TransportHTTP, TransportOf(http))
	require.Empty(t, TransportOf(ServerConfig{}))

	c, ok := AsStdio(stdio)
	require.True(t, ok)
	require.Equal(t, "npx", c.Command)
	h, ok := AsHTTP(http)
	require.True(t, ok)
	require.Equal(t, "https://example/mcp", h.URL)
	c, ok = AsStdio(http)
	require.False(t, ok)
	require.Nil(t, c)
	_, ok = AsSSE(stdio)
	require.False(t, ok)

	require.Equal(t, "https://example/sse", RemoteURL(sse))
	require.Empty(t, RemoteURL(stdio))
	require.Equal(t, map[string]string{"A": "B"}, RemoteHeaders(sse))
	require.Nil(t, RemoteHeaders(stdio))
}

func TestParseTransport(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]ConfigTransport{
		"stdio":           TransportStdio,
		"sse":             TransportSSE,
		"http":            TransportHTTP,
		"streamable-http": TransportHTTP,
	} {
		got, ok := ParseTransport(in)
		require.True(t, ok, in)
		require.Equal(t, want, got)
	}
	_, ok := ParseTransport("websocket")
	require.False(t, ok)
}

func TestConfigHelpersWithSummaries(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(
		ServerConfig{ID: "s-stdio", Name: "stdio", Transport: &StdioConfig{Command: "npx"}},
		ServerConfig{ID: "s-http", Name: "http", Transport: &HTTPConfig{URL: "https://gitmcp.io/modelcontextprotocol/go-sdk"}},
	)
	m := newTestManager(t, newFakeBinder(), &ManagerOptions{Store: store})

	seen := map[ConfigTransport]string{}
	for _, s := range m.Servers() {
		seen[TransportOf(s.Config)] = s.ID
	}
	require.Equal(t, map[ConfigTransport]string{TransportStdio: "s-stdio", TransportHTTP: "s-http"}, seen)
}
