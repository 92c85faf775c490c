package models

// AgentKind identifies the backing implementation of a specialized agent.
type AgentKind string

const (
	// AgentKindLLM is backed by the completion backend with agent-specific instructions.
	AgentKindLLM AgentKind = "llm"
	// AgentKindMCP calls a tool on an MCP server.
	AgentKindMCP AgentKind = "mcp"
	// AgentKindHTTP posts sub-tasks to a remote agent endpoint.
	AgentKindHTTP AgentKind = "http"
	// AgentKindScripted replays canned responses from a script file.
	AgentKindScripted AgentKind = "scripted"
)

// Valid returns true if the kind is a known value.
func (k AgentKind) Valid() bool {
	switch k {
	case AgentKindLLM, AgentKindMCP, AgentKindHTTP, AgentKindScripted:
		return true
	default:
		return false
	}
}

// AgentDescriptor describes a specialized agent to the orchestrator.
// Descriptors are registered once before a run and never change during it.
type AgentDescriptor struct {
	// Name is the unique key of the agent (e.g. "Researcher").
	Name string `json:"name"`
	// Capability is the free-text summary used by the selection policy.
	Capability string `json:"capability"`
	// Kind is the backing implementation.
	Kind AgentKind `json:"kind,omitempty"`
}
