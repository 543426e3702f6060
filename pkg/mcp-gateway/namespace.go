package mcpgateway

import (
	"fmt"
	"strings"
)

// NamespaceStrategy maps upstream identifiers to the names downstream clients
// see. Implementations must be deterministic and collision-free across
// server IDs.
type NamespaceStrategy interface {
	ToolName(serverID, toolName string) string
	PromptName(serverID, promptName string) string
	ResourceURI(serverID, resourceURI string) string
	NativeResourceURI(serverID, gatewayURI string) (string, bool)
}

// ServerPrefixNamespace prefixes tool and prompt names with the server ID,
// joined by Separator ("__" when empty). Resource URIs are wrapped as
// "mcpstudio+<escaped id>:<native uri>".
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(serverID, toolName string) string {
	return serverID + s.separator() + toolName
}

func (s ServerPrefixNamespace) PromptName(serverID, promptName string) string {
	return serverID + s.separator() + promptName
}

func (s ServerPrefixNamespace) ResourceURI(serverID, resourceURI string) string {
	return resourcePrefix(serverID) + resourceURI
}

func (s ServerPrefixNamespace) NativeResourceURI(serverID, gatewayURI string) (string, bool) {
	prefix := resourcePrefix(serverID)
	if !strings.HasPrefix(gatewayURI, prefix) {
		return "", false
	}
	return strings.TrimPrefix(gatewayURI, prefix), true
}

// resourcePrefix keeps the server ID inside the URI scheme. Schemes are
// case-insensitive and only admit letters, digits, '+', '-' and '.', so
// anything other than a lowercase letter, digit or '.' is hex-escaped
// between dashes.
func resourcePrefix(serverID string) string {
	var b strings.Builder
	b.WriteString("mcpstudio+")
	for _, r := range serverID {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "-%x-", r)
		}
	}
	b.WriteByte(':')
	return b.String()
}
