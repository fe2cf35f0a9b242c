package mcp

import (
	"encoding/json"
	"time"
)

// ToolDefinition describes a tool exposed by a connected MCP server.
type ToolDefinition struct {
	// Server is the name of the server that provides this tool.
	Server string `json:"server"`

	// Name is the tool's identifier, unique within its server.
	Name string `json:"name"`

	// Description is a human-readable description of the tool.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// PromptArgument describes a single argument accepted by a prompt template.
type PromptArgument struct {
	// Name is the argument's identifier.
	Name string `json:"name"`

	// Description is a human-readable description of the argument.
	Description string `json:"description,omitempty"`

	// Required indicates whether the argument must be provided.
	Required bool `json:"required,omitempty"`
}

// PromptDefinition describes a prompt template exposed by a connected MCP server.
type PromptDefinition struct {
	// Server is the name of the server that provides this prompt.
	Server string `json:"server"`

	// Name is the prompt's identifier, unique within its server.
	Name string `json:"name"`

	// Description is a human-readable description of the prompt.
	Description string `json:"description,omitempty"`

	// Arguments are the arguments the prompt accepts.
	Arguments []PromptArgument `json:"arguments,omitempty"`
}

// ToolCallRequest is a request to invoke a tool on a named server.
type ToolCallRequest struct {
	// Server is the name of the server hosting the tool.
	Server string `json:"server"`

	// Tool is the name of the tool to invoke.
	Tool string `json:"tool"`

	// Arguments are the tool's input arguments.
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolCallResponse is the result of a tool invocation.
type ToolCallResponse struct {
	// Content contains the result items returned by the tool.
	Content []ContentItem `json:"content"`

	// IsError indicates the tool itself reported a failure. This is distinct
	// from a transport error: the call completed, but the tool's result is an
	// error payload.
	IsError bool `json:"isError,omitempty"`
}

// ContentItem is a single item of tool result content.
type ContentItem struct {
	// Type is the content type ("text", "image", ...).
	Type string `json:"type"`

	// Text is the content for text items.
	Text string `json:"text,omitempty"`

	// Data is base64-encoded content for binary items.
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type for binary items.
	MimeType string `json:"mimeType,omitempty"`
}

// FailureRecord tracks the retry state of a server that is not connected.
// A server has a FailureRecord if and only if it has no live connection;
// absence of a record means the server is healthy (or was never attempted).
type FailureRecord struct {
	// Attempts is the number of consecutive failed connection attempts.
	// It is at least 1 while a record exists.
	Attempts int `json:"attempts"`

	// LastAttempt is when the most recent attempt failed.
	LastAttempt time.Time `json:"last_attempt"`

	// LastError is the error from the most recent attempt.
	LastError string `json:"last_error,omitempty"`
}

// NextRetry returns the earliest time a reconnection attempt is eligible
// under the given backoff policy.
func (r FailureRecord) NextRetry(policy BackoffPolicy) time.Time {
	return r.LastAttempt.Add(policy.Delay(r.Attempts))
}

// InitSummary reports the outcome of a bulk connection pass.
type InitSummary struct {
	// Attempted lists every server the pass tried to connect.
	Attempted []string `json:"attempted"`

	// Connected lists servers that connected successfully.
	Connected []string `json:"connected"`

	// Failed lists servers whose connection attempt failed.
	Failed []string `json:"failed"`
}

// ReconnectSummary reports the outcome of a reconnection pass over failed
// servers.
type ReconnectSummary struct {
	// Attempted lists failed servers whose backoff window had elapsed and
	// that were retried.
	Attempted []string `json:"attempted"`

	// Reconnected lists servers that came back during this pass.
	Reconnected []string `json:"reconnected"`

	// StillFailed lists servers that were retried and failed again.
	StillFailed []string `json:"still_failed"`

	// SkippedBackoff lists servers that were not retried because their
	// backoff window has not yet elapsed.
	SkippedBackoff []string `json:"skipped_backoff"`
}

// ReloadSummary reports the diff applied by a configuration reload.
type ReloadSummary struct {
	// Added lists servers present in the new configuration only.
	Added []string `json:"added"`

	// Removed lists servers present in the old configuration only.
	Removed []string `json:"removed"`

	// Unchanged lists servers present in both.
	Unchanged []string `json:"unchanged"`
}

// ServerStatus is a point-in-time view of one configured server.
type ServerStatus struct {
	// Name is the server's registry name.
	Name string `json:"name"`

	// Transport is the configured transport kind.
	Transport Transport `json:"transport"`

	// Connected indicates a live connection exists.
	Connected bool `json:"connected"`

	// ToolCount is the number of tools in the catalog for this server.
	ToolCount int `json:"tool_count"`

	// PromptCount is the number of prompts in the catalog for this server.
	PromptCount int `json:"prompt_count"`

	// Failure is the failure record for a disconnected server, if any.
	Failure *FailureRecord `json:"failure,omitempty"`
}

// Status is an aggregate view of the manager for status surfaces.
type Status struct {
	// Configured is the number of servers in the registry.
	Configured int `json:"configured"`

	// Connected is the number of servers with a live connection.
	Connected int `json:"connected"`

	// Failed is the number of servers with a failure record.
	Failed int `json:"failed"`

	// Backoff is the reconnection policy in effect.
	Backoff BackoffPolicy `json:"backoff"`

	// Servers holds per-server detail, sorted by name.
	Servers []ServerStatus `json:"servers"`
}
