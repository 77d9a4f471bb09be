package swt

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/higebu/netfd"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// sendBufferBytes is the socket send buffer size the multiplexer
// requests on every accepted client (spec.md §4.9 "sets a large send
// buffer").
const sendBufferBytes = 1 << 20

// Client is one subscribed TCP consumer of the raw serial byte stream
// (spec.md §4.9 "IoConnection"). Each Client owns a writer goroutine
// draining its own queue, the idiomatic-Go stand-in for the original's
// single-threaded per-fd send loop: blocking on one client's socket
// never blocks another's.
type Client struct {
	ID   xid.ID
	conn net.Conn
	log  *logrus.Entry

	mu            sync.Mutex
	queue         []byte
	withholding   bool
	closed        bool
	itcFilterMask uint32

	highWater int
	writeCh   chan struct{}
	done      chan struct{}

	bytesSent uint64
}

// NewClient accepts conn as a new subscriber, sizes its send buffer,
// and starts its writer goroutine.
func NewClient(conn net.Conn, highWater int, log *logrus.Entry) *Client {
	if fd := netfd.GetFdFromConn(conn); fd >= 0 {
		_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, sendBufferBytes)
	}
	c := &Client{
		ID:            xid.New(),
		conn:          conn,
		log:           log.WithField("client", conn.RemoteAddr().String()),
		highWater:     highWater,
		itcFilterMask: ^uint32(0),
		writeCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	go c.pump()
	return c
}

// Enqueue appends data to the client's send queue unless it is
// withholding (spec.md §4.9 "Backpressure"). The transition into
// withholding is reported via justEntered so the caller logs it once.
func (c *Client) Enqueue(data []byte) (justEntered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.withholding {
		return false
	}
	c.queue = append(c.queue, data...)
	if len(c.queue) > c.highWater {
		c.withholding = true
		justEntered = true
	}
	select {
	case c.writeCh <- struct{}{}:
	default:
	}
	return justEntered
}

// pump drains the queue to the socket until the client disconnects or
// is closed, and un-withholds once the queue empties below the
// threshold.
func (c *Client) pump() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.mu.Unlock()
			select {
			case <-c.writeCh:
			case <-time.After(time.Second):
			}
			c.mu.Lock()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		chunk := c.queue
		c.queue = nil
		c.mu.Unlock()

		if _, err := c.conn.Write(chunk); err != nil {
			c.log.WithError(err).Debug("client write failed, dropping")
			c.Close()
			return
		}
		c.mu.Lock()
		c.bytesSent += uint64(len(chunk))
		if c.withholding && len(c.queue) == 0 {
			c.withholding = false
			c.log.Debug("client drained, withholding cleared")
		}
		c.mu.Unlock()
	}
}

// IsWithholding reports the client's current backpressure state.
func (c *Client) IsWithholding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.withholding
}

// BytesSent reports the running total of bytes written to this client.
func (c *Client) BytesSent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesSent
}

// Close disconnects the client (routine, per spec.md §7 "a dropped
// client is routine, not an error").
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
}

// SetITCFilterMask records the mask a connected client sets by typing
// "itcmask N" on its read side (the original's isItcFilterCommand). The
// mask is only stored: fan-out does not consult it, and every client
// receives the full raw stream (SPEC_FULL.md §7).
func (c *Client) SetITCFilterMask(mask uint32) {
	c.mu.Lock()
	c.itcFilterMask = mask
	c.mu.Unlock()
}

// ITCFilterMask returns the client's current channel subscription mask.
func (c *Client) ITCFilterMask() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.itcFilterMask
}

// parseITCFilterCommand recognizes a line of the form "itcmask N" read
// back from a client, per original_source/src/swt.cpp isItcFilterCommand.
func parseITCFilterCommand(line string) (uint32, bool) {
	const prefix = "itcmask "
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, prefix) {
		return 0, false
	}
	var mask uint32
	n, err := fmt.Sscanf(line[len(prefix):], "%d", &mask)
	if err != nil || n != 1 {
		return 0, false
	}
	return mask, true
}
