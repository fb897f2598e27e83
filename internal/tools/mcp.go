package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/schema"
)

const defaultCatalogTTL = 5 * time.Minute

// MCPServerConfig describes how to reach one MCP server. Extracted from a
// tool node's configuration.
type MCPServerConfig struct {
	Name      string
	Transport string // "http" or "stdio"
	URL       string
	Command   string
	Args      []string
	Env       []string
}

// Key identifies the server in the catalog cache.
func (c MCPServerConfig) Key() string {
	if c.Name != "" {
		return c.Name
	}
	if c.URL != "" {
		return c.URL
	}
	return c.Command
}

// MCPSession is the subset of the MCP client used for tool discovery and
// invocation. Satisfied by *client.Client; tests substitute fakes.
type MCPSession interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPDialer connects to a server and completes the initialize handshake.
type MCPDialer func(ctx context.Context, cfg MCPServerConfig) (MCPSession, error)

// Catalog caches MCP tool listings per server with a TTL. Process-scoped
// state with an explicit lifecycle: constructed at startup, invalidated by
// TTL or an explicit Invalidate call, never a package-level singleton.
type Catalog struct {
	mu      sync.Mutex
	entries map[string]*catalogEntry
	ttl     time.Duration
	dial    MCPDialer
	now     func() time.Time
	logger  *slog.Logger
}

type catalogEntry struct {
	session   MCPSession
	tools     []Definition
	fetchedAt time.Time
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithCatalogTTL overrides the listing cache TTL.
func WithCatalogTTL(ttl time.Duration) CatalogOption {
	return func(c *Catalog) { c.ttl = ttl }
}

// WithCatalogDialer overrides how server sessions are established.
func WithCatalogDialer(dial MCPDialer) CatalogOption {
	return func(c *Catalog) { c.dial = dial }
}

// WithCatalogClock overrides the time source, for tests.
func WithCatalogClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) { c.now = now }
}

// WithCatalogLogger sets the catalog logger.
func WithCatalogLogger(logger *slog.Logger) CatalogOption {
	return func(c *Catalog) { c.logger = logger }
}

// NewCatalog creates a Catalog with the default MCP dialer.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		entries: make(map[string]*catalogEntry),
		ttl:     defaultCatalogTTL,
		dial:    dialMCP,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tools returns the tool definitions offered by the server, refreshing the
// cached listing when the TTL has elapsed.
func (c *Catalog) Tools(ctx context.Context, cfg MCPServerConfig, nodeID string) ([]Definition, error) {
	entry, err := c.entry(ctx, cfg)
	if err != nil {
		return nil, err
	}

	out := make([]Definition, len(entry.tools))
	copy(out, entry.tools)
	for i := range out {
		out[i].NodeID = nodeID
	}
	return out, nil
}

// Call invokes a tool on the server and decodes its result. Tool-level
// failures (IsError results) come back as ToolExecutionError.
func (c *Catalog) Call(ctx context.Context, cfg MCPServerConfig, name string, args map[string]any) (any, error) {
	entry, err := c.entry(ctx, cfg)
	if err != nil {
		return nil, err
	}

	result, err := entry.session.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "mcp tool %q call failed", name).WithCause(err)
	}

	decoded := decodeToolResult(result)
	if result.IsError {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "mcp tool %q returned an error: %s", name, expressions.Stringify(decoded))
	}
	return decoded, nil
}

// Invalidate drops the cached listing (and closes the session) for a server.
// An empty key drops everything.
func (c *Catalog) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key == "" {
		for k, entry := range c.entries {
			_ = entry.session.Close()
			delete(c.entries, k)
		}
		return
	}
	if entry, ok := c.entries[key]; ok {
		_ = entry.session.Close()
		delete(c.entries, key)
	}
}

// Close releases every cached session.
func (c *Catalog) Close() {
	c.Invalidate("")
}

func (c *Catalog) entry(ctx context.Context, cfg MCPServerConfig) (*catalogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cfg.Key()
	if key == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "mcp server config has no url or command")
	}

	entry, ok := c.entries[key]
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry, nil
	}

	session := entry.sessionOrNil()
	if session == nil {
		var err error
		session, err = c.dial(ctx, cfg)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "failed to connect to mcp server %q", key).WithCause(err)
		}
	}

	listing, err := session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = session.Close()
		delete(c.entries, key)
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "failed to list tools on mcp server %q", key).WithCause(err)
	}

	defs := make([]Definition, 0, len(listing.Tools))
	for _, tool := range listing.Tools {
		defs = append(defs, Definition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  inputSchemaMap(tool),
		})
	}

	entry = &catalogEntry{session: session, tools: defs, fetchedAt: c.now()}
	c.entries[key] = entry
	c.logger.Debug("refreshed mcp tool listing", "server", key, "tools", len(defs))
	return entry, nil
}

func (e *catalogEntry) sessionOrNil() MCPSession {
	if e == nil {
		return nil
	}
	return e.session
}

func dialMCP(ctx context.Context, cfg MCPServerConfig) (MCPSession, error) {
	var (
		c   *client.Client
		err error
	)
	switch cfg.Transport {
	case "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("command is required for stdio mcp server")
		}
		c, err = client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	default:
		if cfg.URL == "" {
			return nil, fmt.Errorf("url is required for http mcp server")
		}
		c, err = client.NewStreamableHttpClient(cfg.URL)
	}
	if err != nil {
		return nil, err
	}

	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mcp client: %w", err)
	}
	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "nodeflow", Version: "1.0.0"},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize mcp session: %w", err)
	}
	return c, nil
}

// inputSchemaMap converts the tool's input schema into a plain JSON map.
func inputSchemaMap(tool mcp.Tool) map[string]any {
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return emptyObjectSchema()
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || len(m) == 0 {
		return emptyObjectSchema()
	}
	return m
}

// decodeToolResult flattens an MCP result to a Go value: a single text block
// is JSON-parsed when possible, multiple blocks become a list.
func decodeToolResult(result *mcp.CallToolResult) any {
	var texts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			texts = append(texts, c.Text)
		case *mcp.TextContent:
			texts = append(texts, c.Text)
		}
	}

	switch len(texts) {
	case 0:
		return nil
	case 1:
		return parseMaybeJSON(texts[0])
	default:
		out := make([]any, 0, len(texts))
		for _, t := range texts {
			out = append(out, parseMaybeJSON(t))
		}
		return out
	}
}

func parseMaybeJSON(text string) any {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return text
}
