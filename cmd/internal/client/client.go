// Package client speaks the vecavg protocol from the client side.
package client

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"

	"vecavg/cmd/internal/session"
	"vecavg/cmd/security/digest"
)

var (
	// ErrRejected is returned when the server answers the handshake with "ERR".
	ErrRejected = errors.New("client: handshake rejected")

	// ErrProtocol is returned when the server sends something the protocol does not allow.
	ErrProtocol = errors.New("client: protocol violation")
)

// Client is one connection to a vecavg server. It is not safe for concurrent use.
type Client struct {
	conn net.Conn
	alg  digest.Algorithm
}

// Dial connects over TCP.
func Dial(ctx context.Context, addr string, alg digest.Algorithm) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn, alg), nil
}

// New wraps an established connection (TCP, or a WebSocket net.Conn).
func New(conn net.Conn, alg digest.Algorithm) *Client {
	if alg == "" {
		alg = digest.Default
	}
	return &Client{conn: conn, alg: alg}
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// NewSalt returns 8 random bytes as 16 lowercase hex characters.
func NewSalt() (string, error) {
	b := make([]byte, session.SaltHexLength/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Authenticate performs the handshake with a fresh salt.
func (c *Client) Authenticate(login, secret string) error {
	salt, err := NewSalt()
	if err != nil {
		return err
	}
	return c.AuthenticateRaw(login, salt, c.alg.SaltedHex(salt, secret))
}

// AuthenticateRaw sends an arbitrary handshake message built from the three tokens.
func (c *Client) AuthenticateRaw(login, salt, hash string) error {
	if _, err := c.conn.Write([]byte(login + " " + salt + " " + hash)); err != nil {
		return err
	}

	buf := make([]byte, len(session.ResponseERR))
	if _, err := io.ReadFull(c.conn, buf[:2]); err != nil {
		return err
	}
	switch string(buf[:2]) {
	case session.ResponseOK:
		return nil
	case session.ResponseERR[:2]:
		if _, err := io.ReadFull(c.conn, buf[2:]); err != nil {
			return err
		}
		if string(buf) == session.ResponseERR {
			return ErrRejected
		}
	}
	return fmt.Errorf("%w: handshake response %q", ErrProtocol, buf)
}

// Averages sends one batch and returns the per-vector results in order.
// Overflowed vectors come back as vector.OverflowSentinel.
func (c *Client) Averages(vectors [][]int64) ([]int64, error) {
	if err := c.writeUint32(uint32(len(vectors))); err != nil { // #nosec G115 -- callers bound the batch.
		return nil, err
	}
	ack, err := c.readUint32()
	if err != nil {
		return nil, err
	}
	if int(ack) != len(vectors) {
		return nil, fmt.Errorf("%w: count ack %d, sent %d", ErrProtocol, ack, len(vectors))
	}

	out := make([]int64, 0, len(vectors))
	for _, v := range vectors {
		if err := c.writeVector(v); err != nil {
			return out, err
		}
		avg, err := c.readInt64()
		if err != nil {
			return out, err
		}
		out = append(out, avg)
	}
	return out, nil
}

// ExpectClosed reads once and returns nil if the server has closed the connection.
// The server closes after every batch, whatever its outcome.
func (c *Client) ExpectClosed() error {
	var b [1]byte
	n, err := c.conn.Read(b[:])
	switch {
	case n > 0:
		return fmt.Errorf("%w: unexpected data after batch", ErrProtocol)
	case errors.Is(err, io.EOF):
		return nil
	case err == nil:
		return fmt.Errorf("%w: empty read", ErrProtocol)
	}
	return err
}

// SendCount writes a raw batch count without waiting for the acknowledgement.
func (c *Client) SendCount(count uint32) error { return c.writeUint32(count) }

// SendSize writes a raw vector size header.
func (c *Client) SendSize(size uint32) error { return c.writeUint32(size) }

func (c *Client) writeUint32(v uint32) error {
	var b [4]byte
	session.ByteOrder.PutUint32(b[:], v)
	_, err := c.conn.Write(b[:])
	return err
}

func (c *Client) writeVector(values []int64) error {
	b := make([]byte, 4+8*len(values))
	session.ByteOrder.PutUint32(b, uint32(len(values))) // #nosec G115 -- server bounds the size.
	for i, v := range values {
		session.ByteOrder.PutUint64(b[4+i*8:], uint64(v)) // #nosec G115 -- two's complement is the wire format.
	}
	_, err := c.conn.Write(b)
	return err
}

func (c *Client) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(c.conn, b[:]); err != nil {
		return 0, err
	}
	return session.ByteOrder.Uint32(b[:]), nil
}

func (c *Client) readInt64() (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(c.conn, b[:]); err != nil {
		return 0, err
	}
	return int64(session.ByteOrder.Uint64(b[:])), nil // #nosec G115 -- two's complement is the wire format.
}
