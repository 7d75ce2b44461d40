// Package client establishes the connection to a console server over a
// local Unix domain socket.
//
// Console servers bind one socket per console in the Linux abstract
// namespace, named "obmc-console.<socket-id>". A filesystem socket path
// may be configured instead for servers bound outside the abstract
// namespace.
package client

import (
	"context"
	"fmt"
	"net"

	"github.com/steven-RD/obmc-console/pkg/config"
)

// Dialer resolves and connects the console server socket for one console.
type Dialer struct {
	config *config.Config
}

// New creates a Dialer from the loaded configuration.
func New(cfg *config.Config) *Dialer {
	return &Dialer{config: cfg}
}

// SocketName returns the Unix socket address of the console server. A
// configured filesystem path wins; otherwise the name lives in the
// abstract namespace, which the net package spells with a leading '@'.
func (d *Dialer) SocketName() string {
	if d.config.Console.SocketPath != "" {
		return d.config.Console.SocketPath
	}
	return "@obmc-console." + d.config.Console.SocketID
}

// Dial connects to the console server, honoring the configured timeout
// and ctx. The returned connection is ready for relaying; there is no
// handshake on the wire.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	name := d.SocketName()

	nd := net.Dialer{Timeout: d.config.Connect.Timeout}
	conn, err := nd.DialContext(ctx, "unix", name)
	if err != nil {
		return nil, fmt.Errorf("connect to console server at %s: %w", name, err)
	}

	return conn, nil
}
