// Package mcpgateway re-exposes the servers connected through an
// mcpmgr.Manager as one Streamable MCP server. Tools and prompts are renamed
// with their server ID and resources get a server-scoped URI, so a downstream
// client can reach every connected server through a single endpoint. Calls are
// forwarded through the Manager, which keeps its logging, tracing and
// not-connected checks in the path.
package mcpgateway
