package swt

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestParseITCFilterCommand(t *testing.T) {
	cases := []struct {
		line    string
		wantOK  bool
		wantVal uint32
	}{
		{"itcmask 7", true, 7},
		{"  itcmask 255  ", true, 255},
		{"not a command", false, 0},
		{"itcmask", false, 0},
	}
	for _, c := range cases {
		mask, ok := parseITCFilterCommand(c.line)
		if ok != c.wantOK {
			t.Fatalf("%q: got ok=%v want %v", c.line, ok, c.wantOK)
		}
		if ok && mask != c.wantVal {
			t.Fatalf("%q: got mask=%d want %d", c.line, mask, c.wantVal)
		}
	}
}

func TestClientEnqueueDeliversBytes(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := NewClient(server, 1<<20, testLogEntry())
	defer c.Close()

	c.Enqueue([]byte("hello"))

	buf := make([]byte, 5)
	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("reading from client pipe: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q want %q", buf, "hello")
	}
}

func TestClientEntersWithholdingPastHighWater(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := NewClient(server, 4, testLogEntry())
	defer c.Close()

	justEntered := c.Enqueue([]byte("too many bytes"))
	if !justEntered {
		t.Fatalf("expected withholding transition on first over-threshold enqueue")
	}
	if !c.IsWithholding() {
		t.Fatalf("expected IsWithholding true")
	}

	again := c.Enqueue([]byte("dropped"))
	if again {
		t.Fatalf("withholding transition must only report true once")
	}
}
