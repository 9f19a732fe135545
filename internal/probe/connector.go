package probe

import (
	"context"
	"io"
	"net"
	"time"
)

// Connector opens a connection to an address. Only the handshake matters; the
// returned connection is closed right away by the caller.
type Connector interface {
	Connect(ctx context.Context, address string) (io.Closer, error)
}

// TCPConnector connects with a plain TCP dial
type TCPConnector struct {
	// Timeout bounds a single attempt. Zero leaves it to the OS.
	Timeout time.Duration
}

func (c TCPConnector) Connect(ctx context.Context, address string) (io.Closer, error) {
	d := net.Dialer{Timeout: c.Timeout}
	return d.DialContext(ctx, "tcp", address)
}
