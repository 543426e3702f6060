// Package mcpmgr manages connections to many Model Context Protocol (MCP)
// servers from a single Go process. It tracks each configured server through
// a small connection state machine, serializes lifecycle operations per
// server, routes protocol calls to the live connection, and records every
// notable event in an ordered, queryable log.
//
// # Core entry points
//
//   - Manager is the long-lived coordinator. Construct it with NewManager,
//     register servers with AddServer, then drive them with Connect,
//     Reconnect, Disconnect and RemoveServer. Cleanup disconnects everything
//     on shutdown.
//   - ServerConfig declares how a server is reached. Its Transport is one of
//     *StdioConfig, *SSEConfig or *HTTPConfig; use TransportOf, IsStdio or
//     AsHTTP to branch on it.
//   - Once a server is connected, ListTools, ListPrompts, ListResources,
//     CallTool, GetPrompt, ReadResource and Ping forward to it and return the
//     server's response unchanged.
//   - EventLog holds lifecycle and call events. Query iterates entries in
//     append order; Subscribe streams new ones.
//
// Lifecycle operations never block on each other: a second Connect,
// Disconnect or RemoveServer for a server that is already mid-operation
// fails immediately with ErrAlreadyInProgress.
//
// Connections are opened through a Binder. SDKBinder, the default, uses
// github.com/modelcontextprotocol/go-sdk; tests can supply their own.
//
// Configurations are loaded from and saved to a ConfigStore. MemoryStore is
// the default; see package configstore for a file-backed store.
package mcpmgr
