// Package mcp holds the connection settings shared by the MCP tool bridge and
// the configuration layer.
package mcp

import (
	"errors"
	"fmt"
)

// Transport names how the gateway reaches the IPO tool server.
type Transport string

const (
	// TransportInMemory pairs each session with the built-in catalogue server.
	TransportInMemory Transport = "inmemory"

	// TransportStdio runs the tool server as a child process per session.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP reaches a remote tool server over HTTP.
	TransportStreamableHTTP Transport = "streamable-http"
)

func (t Transport) known() bool {
	return t == TransportInMemory || t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig locates the tool server. Command and Env apply to
// [TransportStdio] (Command is split on spaces); URL applies to
// [TransportStreamableHTTP].
type ServerConfig struct {
	Transport Transport
	Command   string
	Env       map[string]string
	URL       string
}

// Validate reports every problem with cfg.
func (c ServerConfig) Validate() error {
	var errs []error
	if !c.Transport.known() {
		errs = append(errs, fmt.Errorf("mcp: unknown transport %q", c.Transport))
	}
	if c.Transport == TransportStdio && c.Command == "" {
		errs = append(errs, errors.New("mcp: stdio transport requires a command"))
	}
	if c.Transport == TransportStreamableHTTP && c.URL == "" {
		errs = append(errs, errors.New("mcp: streamable-http transport requires a url"))
	}
	return errors.Join(errs...)
}
