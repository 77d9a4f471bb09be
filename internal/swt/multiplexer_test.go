package swt

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/riscv-trace/dqr/internal/config"
)

var errSerialGone = errors.New("fake serial device unavailable")

func testLogEntry() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel) // keep test output quiet
	return logrus.NewEntry(l)
}

// fakeSerial is an io.ReadWriteCloser backed by an in-memory pipe, the
// MessageStreamBuilder stand-in for a physical cable (spec.md §4.9
// "temp scaffolding before we have a serial cable").
type fakeSerial struct {
	io.Reader
	io.Writer
}

func newFakeSerial(data []byte) *fakeSerial {
	r, w := io.Pipe()
	go func() {
		w.Write(data)
		w.Close()
	}()
	return &fakeSerial{Reader: r, Writer: io.Discard}
}

func (f *fakeSerial) Close() error {
	if c, ok := f.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func TestMultiplexerFansOutSerialBytesToClients(t *testing.T) {
	payload := []byte("raw slice bytes, relayed verbatim")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	opened := false
	opener := func() (io.ReadWriteCloser, error) {
		if opened {
			// The cable "disconnects" after serving the payload once;
			// every reconnect attempt after that fails until the test
			// cancels the context, exercising the reconnect-poll path
			// without ever blocking serialLoop in a Read it can't cancel.
			return nil, errSerialGone
		}
		opened = true
		return newFakeSerial(payload), nil
	}

	cfg := config.DefaultSWT()
	cfg.ReconnectInterval = 10 * time.Millisecond
	mux := New(cfg, listener, opener, nil, testLogEntry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		mux.Run(ctx)
		close(done)
	}()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("reading fanned-out bytes: %v", err)
	}
	if string(buf) != string(payload) {
		t.Fatalf("got %q want %q", buf, payload)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMultiplexerTracksHighWaterClients(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	// This test only exercises the TCP accept side, so the serial link
	// is never available; serialLoop spins on its reconnect-poll path,
	// which is the one that actually honors context cancellation.
	opener := func() (io.ReadWriteCloser, error) {
		return nil, errSerialGone
	}

	cfg := config.DefaultSWT()
	cfg.ReconnectInterval = 10 * time.Millisecond
	mux := New(cfg, listener, opener, nil, testLogEntry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		mux.Run(ctx)
		close(done)
	}()

	var conns []net.Conn
	for i := 0; i < 3; i++ {
		c, err := net.Dial("tcp", listener.Addr().String())
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conns = append(conns, c)
	}
	// Give acceptLoop a moment to register all three before checking.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if mux.HighWaterClients() >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := mux.HighWaterClients(); got != 3 {
		t.Fatalf("got high water %d, want 3", got)
	}

	for _, c := range conns {
		c.Close()
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
