// Package bridge is the gateway's client side of the tool protocol.
//
// A [Bridge] wraps one MCP client session. It lists the server's tools as
// [Operation] values, validates call arguments against each tool's input
// schema, and turns every invocation into a [Result] that is either a text
// payload or an error. Invoke never panics and never leaves a call
// unresolved: transport failures, tool-level errors, schema violations, and
// timeouts all come back as a Result carrying an error.
//
// Typical usage:
//
//	d := bridge.NewDialer(mcp.ServerConfig{Transport: mcp.TransportInMemory}, bridge.WithServer(srv))
//	b, err := d.Dial(ctx)
//	if err != nil { ... }
//	defer b.Close()
//
//	ops, err := b.ListOperations(ctx)
//	res := b.Invoke(ctx, "get_active_ipos", nil)
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/xeipuuv/gojsonschema"

	"github.com/MrWong99/ipovoice/internal/mcp"
)

// DefaultTimeout bounds a single tool invocation when no [WithTimeout] option
// is given.
const DefaultTimeout = 30 * time.Second

var (
	// ErrUnknownOperation is returned in a [Result] when the model asks for a
	// tool the server does not list.
	ErrUnknownOperation = errors.New("bridge: unknown operation")

	// ErrInvalidArguments is wrapped by a [HandlerError] when call arguments
	// do not satisfy the tool's input schema.
	ErrInvalidArguments = errors.New("bridge: invalid arguments")

	// ErrContextUnavailable is returned by [Bridge.ReadDocuments] when any of
	// the requested resources cannot be read.
	ErrContextUnavailable = errors.New("bridge: context unavailable")
)

// HandlerError reports a failed invocation of a known tool.
type HandlerError struct {
	Tool string
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("bridge: tool %q: %v", e.Tool, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Operation describes one tool offered to the speech model.
type Operation struct {
	Name        string
	Description string

	// InputSchema is the tool's JSON Schema for its arguments. It always has
	// "type": "object" at the top level.
	InputSchema map[string]any
}

// Result is the outcome of [Bridge.Invoke]. Exactly one of Payload and Err is
// meaningful: when Err is nil, Payload holds the tool's text output.
type Result struct {
	Payload string
	Err     error
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Option is a functional option for a [Dialer].
type Option func(*Dialer)

// WithTimeout sets the deadline applied to each individual invocation. Values
// of zero or less keep [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(dl *Dialer) {
		if d > 0 {
			dl.timeout = d
		}
	}
}

// WithServer sets the in-process server used by [mcp.TransportInMemory].
func WithServer(srv *mcpsdk.Server) Option {
	return func(dl *Dialer) {
		dl.server = srv
	}
}

// WithClientName overrides the implementation name announced to the server.
func WithClientName(name, version string) Option {
	return func(dl *Dialer) {
		dl.impl = &mcpsdk.Implementation{Name: name, Version: version}
	}
}

// Dialer opens one [Bridge] per gateway session. It is safe for concurrent
// use.
type Dialer struct {
	cfg     mcp.ServerConfig
	server  *mcpsdk.Server
	impl    *mcpsdk.Implementation
	timeout time.Duration
}

// NewDialer returns a Dialer for cfg.
func NewDialer(cfg mcp.ServerConfig, opts ...Option) *Dialer {
	d := &Dialer{
		cfg:     cfg,
		impl:    &mcpsdk.Implementation{Name: "ipovoice-gateway", Version: "dev"},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial connects to the tool server. For [mcp.TransportStdio] the subprocess
// lives as long as ctx; cancel ctx or call [Bridge.Close] to stop it.
func (d *Dialer) Dial(ctx context.Context) (*Bridge, error) {
	transport, err := d.transport(ctx)
	if err != nil {
		return nil, err
	}
	client := mcpsdk.NewClient(d.impl, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: connect (%s): %w", d.cfg.Transport, err)
	}
	return &Bridge{session: session, timeout: d.timeout}, nil
}

func (d *Dialer) transport(ctx context.Context) (mcpsdk.Transport, error) {
	switch d.cfg.Transport {
	case mcp.TransportInMemory, "":
		if d.server == nil {
			return nil, errors.New("bridge: in-memory transport requires a server")
		}
		serverT, clientT := mcpsdk.NewInMemoryTransports()
		if _, err := d.server.Connect(ctx, serverT, nil); err != nil {
			return nil, fmt.Errorf("bridge: connect in-memory server: %w", err)
		}
		return clientT, nil

	case mcp.TransportStdio:
		parts := strings.Fields(d.cfg.Command)
		if len(parts) == 0 {
			return nil, errors.New("bridge: stdio transport requires a command")
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		cmd.Env = os.Environ()
		for k, v := range d.cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil

	case mcp.TransportStreamableHTTP:
		if d.cfg.URL == "" {
			return nil, errors.New("bridge: streamable-http transport requires a url")
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: d.cfg.URL}, nil

	default:
		return nil, fmt.Errorf("bridge: unknown transport %q", d.cfg.Transport)
	}
}

// Session is the tool surface a gateway session depends on. [*Bridge]
// implements it; tests substitute a mock.
type Session interface {
	ListOperations(ctx context.Context) ([]Operation, error)
	Invoke(ctx context.Context, name string, args map[string]any) Result
	ReadDocuments(ctx context.Context, uris []string) ([]string, error)
	Close() error
}

var _ Session = (*Bridge)(nil)

// Bridge is one client session with the tool server. It is safe for
// concurrent use; Invoke may be called from many goroutines at once.
type Bridge struct {
	session *mcpsdk.ClientSession
	timeout time.Duration

	mu  sync.RWMutex
	ops map[string]*compiledOp
}

type compiledOp struct {
	op     Operation
	schema *gojsonschema.Schema
}

// ListOperations fetches the server's tool list, normalises each input
// schema, and compiles it for argument validation. The result replaces any
// previously listed set.
func (b *Bridge) ListOperations(ctx context.Context) ([]Operation, error) {
	ops := make(map[string]*compiledOp)
	var list []Operation
	for tool, err := range b.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("bridge: list tools: %w", err)
		}
		op := Operation{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: normalizeSchema(tool.InputSchema),
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(op.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("bridge: compile schema of %q: %w", op.Name, err)
		}
		ops[op.Name] = &compiledOp{op: op, schema: schema}
		list = append(list, op)
	}

	b.mu.Lock()
	b.ops = ops
	b.mu.Unlock()
	return list, nil
}

// Invoke runs the named tool with args. The tool list must have been fetched
// with [Bridge.ListOperations] first; names it did not return resolve to
// [ErrUnknownOperation]. Every other failure is a [*HandlerError].
func (b *Bridge) Invoke(ctx context.Context, name string, args map[string]any) Result {
	b.mu.RLock()
	entry, ok := b.ops[name]
	b.mu.RUnlock()
	if !ok {
		return Result{Err: fmt.Errorf("%w: %q", ErrUnknownOperation, name)}
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := validate(entry.schema, args); err != nil {
		return Result{Err: &HandlerError{Tool: name, Err: err}}
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	res, err := b.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("timed out after %s: %w", b.timeout, ctx.Err())
		}
		return Result{Err: &HandlerError{Tool: name, Err: err}}
	}

	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return Result{Err: &HandlerError{Tool: name, Err: errors.New(text)}}
	}
	return Result{Payload: text}
}

// ReadDocuments reads each resource in uris and returns their texts in the
// same order. Any failure yields an error wrapping [ErrContextUnavailable].
func (b *Bridge) ReadDocuments(ctx context.Context, uris []string) ([]string, error) {
	docs := make([]string, 0, len(uris))
	for _, uri := range uris {
		res, err := b.session.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: uri})
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrContextUnavailable, uri, err)
		}
		var sb strings.Builder
		for _, c := range res.Contents {
			if c != nil {
				sb.WriteString(c.Text)
			}
		}
		docs = append(docs, sb.String())
	}
	return docs, nil
}

// Close ends the client session. For stdio servers this also stops the
// subprocess.
func (b *Bridge) Close() error {
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("bridge: close: %w", err)
	}
	return nil
}

func validate(schema *gojsonschema.Schema, args map[string]any) error {
	res, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
}

// normalizeSchema converts a tool's input schema to a plain map with a
// top-level "type": "object". The "$schema" keyword is dropped since the
// validator only understands drafts 4 to 7.
func normalizeSchema(schema any) map[string]any {
	m := schemaToMap(schema)
	delete(m, "$schema")
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return m
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func contentText(content []mcpsdk.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
