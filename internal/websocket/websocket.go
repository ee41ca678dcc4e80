// Package websocket is the connection layer of the websocket transaction.
// A Conn belongs to one transaction iteration and is not safe for
// concurrent use.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultReadLimit = 1 << 20
	closeGrace       = time.Second
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("websocket connection closed")

// Options configures Dial.
type Options struct {
	URL    string
	Header http.Header
	// Timeout bounds the handshake and every read or write. Zero means 30s.
	Timeout time.Duration
	// ReadLimit caps the size of one incoming message. Zero means 1 MiB.
	ReadLimit int64
	// Binary sends binary frames instead of text frames.
	Binary bool
}

// Stats counts the traffic of one connection.
type Stats struct {
	MessagesSent     int
	MessagesReceived int
	BytesSent        int64
	BytesReceived    int64
}

// Conn is an open connection.
type Conn struct {
	ws      *websocket.Conn
	timeout time.Duration
	frame   int
	stats   Stats
}

// Dial performs the handshake.
func Dial(ctx context.Context, opt Options) (*Conn, error) {
	if opt.Timeout <= 0 {
		opt.Timeout = defaultTimeout
	}
	if opt.ReadLimit <= 0 {
		opt.ReadLimit = defaultReadLimit
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: opt.Timeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, resp, err := dialer.DialContext(ctx, opt.URL, opt.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket handshake: %w", err)
	}
	ws.SetReadLimit(opt.ReadLimit)

	frame := websocket.TextMessage
	if opt.Binary {
		frame = websocket.BinaryMessage
	}
	return &Conn{ws: ws, timeout: opt.Timeout, frame: frame}, nil
}

// Send writes one message.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if c.ws == nil {
		return ErrClosed
	}
	if err := c.ws.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(c.frame, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	c.stats.MessagesSent++
	c.stats.BytesSent += int64(len(data))
	return nil
}

// Receive reads one message of any type.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if c.ws == nil {
		return nil, ErrClosed
	}
	if err := c.ws.SetReadDeadline(c.deadline(ctx)); err != nil {
		return nil, err
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	c.stats.MessagesReceived++
	c.stats.BytesReceived += int64(len(data))
	return data, nil
}

// Exchange sends messages in order. With expectReply it waits for one
// reply after each message and returns the last reply.
func (c *Conn) Exchange(ctx context.Context, messages [][]byte, expectReply bool) ([]byte, error) {
	var last []byte
	for i, msg := range messages {
		if err := c.Send(ctx, msg); err != nil {
			return nil, fmt.Errorf("message %d: %w", i+1, err)
		}
		if !expectReply {
			continue
		}
		reply, err := c.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("reply %d: %w", i+1, err)
		}
		last = reply
	}
	return last, nil
}

// Stats returns the traffic counted so far.
func (c *Conn) Stats() Stats { return c.stats }

// Close sends a normal closure frame and releases the connection. Calling
// it twice is harmless.
func (c *Conn) Close() error {
	if c.ws == nil {
		return nil
	}
	ws := c.ws
	c.ws = nil
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	if err := ws.Close(); err != nil {
		return err
	}
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return werr
	}
	return nil
}

// deadline is the earlier of the context deadline and now+timeout.
func (c *Conn) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}
