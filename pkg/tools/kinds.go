package tools

import "strings"

// Kind classifies what a tool touches.
type Kind string

const (
	KindRead        Kind = "read"
	KindWrite       Kind = "write"
	KindShell       Kind = "shell"
	KindNetwork     Kind = "network"
	KindInteraction Kind = "interaction"
	KindMCP         Kind = "mcp"
)

// AllKinds returns all valid tool kinds
func AllKinds() []Kind {
	return []Kind{
		KindRead,
		KindWrite,
		KindShell,
		KindNetwork,
		KindInteraction,
		KindMCP,
	}
}

// IsValidKind checks if a kind is valid
func IsValidKind(kind string) bool {
	k := Kind(strings.ToLower(kind))
	for _, valid := range AllKinds() {
		if k == valid {
			return true
		}
	}
	return false
}

// Icon returns the short label the renderers print next to a tool call.
func (k Kind) Icon() string {
	switch k {
	case KindRead:
		return "[read]"
	case KindWrite:
		return "[write]"
	case KindShell:
		return "[shell]"
	case KindNetwork:
		return "[net]"
	case KindInteraction:
		return "[ask]"
	case KindMCP:
		return "[mcp]"
	default:
		return "[tool]"
	}
}
