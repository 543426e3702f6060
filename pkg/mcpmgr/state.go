package mcpmgr

// ConnectionState represents the lifecycle of a managed connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// AllStates lists every ConnectionState, in declaration order.
var AllStates = []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateError}

// Capabilities records which feature families a connected server advertised
// during initialization.
type Capabilities struct {
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
	Tools     bool `json:"tools"`
}

// ServerSummary aggregates status information for a managed server.
type ServerSummary struct {
	ID           string          `json:"id"`
	Config       ServerConfig    `json:"config"`
	State        ConnectionState `json:"status"`
	Error        string          `json:"error,omitempty"`
	Capabilities *Capabilities   `json:"capabilities,omitempty"`
}
