package proxy

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// TCPTransport frames messages over a plain or TLS TCP connection with a
// 4-byte big-endian length prefix, the same framing persistentConnection.cc
// used ahead of its protobuf payloads.
type TCPTransport struct {
	conn net.Conn
	mu   sync.Mutex // serializes concurrent Send calls onto one socket
}

// DialTCP connects to addr, optionally over TLS, for use as a Communicator
// Transport.
func DialTCP(ctx context.Context, addr string, useTLS bool) (*TCPTransport, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("proxy: dial %s: %w", addr, err)
	}
	if useTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: hostOnly(addr)})
	}
	return &TCPTransport{conn: conn}, nil
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func (t *TCPTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(frame)))
	if _, err := t.conn.Write(header); err != nil {
		return err
	}
	_, err := t.conn.Write(frame)
	return err
}

func (t *TCPTransport) Recv(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetReadDeadline(deadline)
		defer t.conn.SetReadDeadline(time.Time{})
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header)
	frame := make([]byte, size)
	if _, err := io.ReadFull(t.conn, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

var _ Transport = (*TCPTransport)(nil)
