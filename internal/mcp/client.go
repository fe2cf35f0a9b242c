package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// Credential carries an authentication secret for a remote tool server.
type Credential struct {
	// Scheme is the HTTP auth scheme ("Bearer") or header name for API keys
	// ("X-API-Key").
	Scheme string

	// Token is the secret value. Never log this.
	Token string
}

// CredentialFunc resolves the credential for a (user, server) pair.
// A nil credential with a nil error means the server needs none.
// The manager connects with the service identity (empty user).
type CredentialFunc func(ctx context.Context, user, server string) (*Credential, error)

// Connector is a live session with one tool server, independent of
// transport. Implementations must be safe for concurrent use and Close must
// be idempotent.
type Connector interface {
	// ServerName returns the registry name of the connected server.
	ServerName() string

	// ListTools retrieves the server's tool definitions.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// ListPrompts retrieves the server's prompt definitions.
	ListPrompts(ctx context.Context) ([]PromptDefinition, error)

	// CallTool invokes a tool. The returned response may itself report a
	// tool-level error via IsError.
	CallTool(ctx context.Context, tool string, args map[string]interface{}) (*ToolCallResponse, error)

	// Ping checks liveness of the session.
	Ping(ctx context.Context) error

	// Close tears down the session and releases transport resources.
	Close() error
}

// DialFunc establishes a session with a configured server. The Manager
// takes one at construction so tests can substitute a fake.
type DialFunc func(ctx context.Context, cfg *ServerConfig, cred *Credential) (Connector, error)

// Dial connects to a tool server, constructing the transport that matches
// its configuration and running the MCP initialize handshake. The context
// bounds the whole connection attempt.
func Dial(ctx context.Context, cfg *ServerConfig, cred *Credential) (Connector, error) {
	var (
		mcpClient *client.Client
		err       error
	)

	switch cfg.Transport {
	case TransportStdio:
		mcpClient, err = client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	case TransportHTTP:
		var opts []transport.StreamableHTTPCOption
		if headers := authHeaders(cfg, cred); len(headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(headers))
		}
		mcpClient, err = client.NewStreamableHttpClient(cfg.Endpoint, opts...)
	case TransportSSE:
		var opts []transport.ClientOption
		if headers := authHeaders(cfg, cred); len(headers) > 0 {
			opts = append(opts, transport.WithHeaders(headers))
		}
		mcpClient, err = client.NewSSEMCPClient(cfg.Endpoint, opts...)
	default:
		return nil, ErrInvalidConfig(cfg.Name, fmt.Sprintf("unknown transport %q", cfg.Transport))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	c := &mcpConnector{
		serverName: cfg.Name,
		client:     mcpClient,
		timeout:    cfg.Timeout,
	}

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize MCP server: %w", err)
	}

	return c, nil
}

// authHeaders builds the auth headers for a remote transport.
func authHeaders(cfg *ServerConfig, cred *Credential) map[string]string {
	if cred == nil || cred.Token == "" {
		return nil
	}
	switch cfg.AuthType {
	case AuthAPIKey:
		header := cred.Scheme
		if header == "" {
			header = "X-API-Key"
		}
		return map[string]string{header: cred.Token}
	case AuthBearer, AuthOAuth:
		return map[string]string{"Authorization": "Bearer " + cred.Token}
	default:
		return nil
	}
}

// mcpConnector is the production Connector backed by mark3labs/mcp-go.
type mcpConnector struct {
	serverName string
	client     *client.Client
	timeout    time.Duration
}

func (c *mcpConnector) ServerName() string {
	return c.serverName
}

// initialize sends the initialize request to the MCP server.
func (c *mcpConnector) initialize(ctx context.Context) error {
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "parley",
				Version: "0.1.0",
			},
		},
	}

	if _, err := c.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	return nil
}

// ListTools retrieves the list of available tools from the MCP server.
func (c *mcpConnector) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]ToolDefinition, len(result.Tools))
	for i, tool := range result.Tools {
		// Prefer RawInputSchema; fall back to re-marshalling the typed schema.
		var schemaBytes []byte
		if len(tool.RawInputSchema) > 0 {
			schemaBytes = tool.RawInputSchema
		} else {
			toolBytes, err := tool.MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool %s: %w", tool.Name, err)
			}
			var toolMap map[string]interface{}
			if err := json.Unmarshal(toolBytes, &toolMap); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool %s: %w", tool.Name, err)
			}
			if inputSchema, ok := toolMap["inputSchema"]; ok {
				schemaBytes, err = json.Marshal(inputSchema)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal input schema for %s: %w", tool.Name, err)
				}
			}
		}

		tools[i] = ToolDefinition{
			Server:      c.serverName,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaBytes,
		}
	}

	return tools, nil
}

// ListPrompts retrieves the list of available prompts from the MCP server.
func (c *mcpConnector) ListPrompts(ctx context.Context) ([]PromptDefinition, error) {
	result, err := c.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}

	prompts := make([]PromptDefinition, len(result.Prompts))
	for i, prompt := range result.Prompts {
		args := make([]PromptArgument, len(prompt.Arguments))
		for j, arg := range prompt.Arguments {
			args[j] = PromptArgument{
				Name:        arg.Name,
				Description: arg.Description,
				Required:    arg.Required,
			}
		}
		prompts[i] = PromptDefinition{
			Server:      c.serverName,
			Name:        prompt.Name,
			Description: prompt.Description,
			Arguments:   args,
		}
	}

	return prompts, nil
}

// CallTool executes an MCP tool with the given arguments.
func (c *mcpConnector) CallTool(ctx context.Context, tool string, args map[string]interface{}) (*ToolCallResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	mcpReq := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      tool,
			Arguments: args,
		},
	}

	result, err := c.client.CallTool(ctx, mcpReq)
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}

	response := &ToolCallResponse{
		IsError: result.IsError,
		Content: make([]ContentItem, len(result.Content)),
	}

	for i, content := range result.Content {
		item := ContentItem{}

		if textContent, ok := mcp.AsTextContent(content); ok {
			item.Type = textContent.Type
			item.Text = textContent.Text
		} else if imageContent, ok := mcp.AsImageContent(content); ok {
			item.Type = imageContent.Type
			item.Data = imageContent.Data
			item.MimeType = imageContent.MIMEType
		} else {
			// Fallback: marshal to JSON to extract fields.
			contentBytes, err := json.Marshal(content)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal content: %w", err)
			}
			var contentMap map[string]interface{}
			if err := json.Unmarshal(contentBytes, &contentMap); err != nil {
				return nil, fmt.Errorf("failed to unmarshal content: %w", err)
			}

			if contentType, ok := contentMap["type"].(string); ok {
				item.Type = contentType
			}
			if text, ok := contentMap["text"].(string); ok {
				item.Text = text
			}
			if data, ok := contentMap["data"].(string); ok {
				item.Data = data
			}
			if mimeType, ok := contentMap["mimeType"].(string); ok {
				item.MimeType = mimeType
			}
		}

		response.Content[i] = item
	}

	return response, nil
}

// Ping checks if the server is still responsive.
func (c *mcpConnector) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		if err == io.EOF {
			return fmt.Errorf("server connection closed")
		}
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close closes the connection to the MCP server.
func (c *mcpConnector) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close MCP client: %w", err)
	}
	return nil
}
