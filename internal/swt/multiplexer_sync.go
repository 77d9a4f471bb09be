package swt

import (
	"context"
	"sync"
)

// selectHandshake mirrors the original's PthreadModeData: a mutex and a
// condition variable carrying selectRequestValid / selectResponseValid
// / selectResponseAck between a waiter and a helper goroutine, for
// platforms where the serial device cannot be waited on alongside
// sockets in one readiness primitive (spec.md §5 "Thread-synchronization
// variant"). Go's runtime netpoller makes this unnecessary for TCP
// sockets, so the only place it is actually exercised in this module is
// serialLoopPthread below, which stands in for a platform where blocking
// serial reads must be isolated onto their own goroutine and polled for
// readiness rather than read directly inline.
type selectHandshake struct {
	mu                  sync.Mutex
	cond                *sync.Cond
	requestValid        bool
	responseValid       bool
	responseAck         bool
	result               []byte
	exitThreadRequested bool
}

func newSelectHandshake() *selectHandshake {
	h := &selectHandshake{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// request signals the helper goroutine to attempt one read and waits
// for its response, broadcasting after every state change exactly as
// the original's pthread_cond_broadcast-after-every-change rule
// requires.
func (h *selectHandshake) request() []byte {
	h.mu.Lock()
	h.requestValid = true
	h.cond.Broadcast()
	for !h.responseValid && !h.exitThreadRequested {
		h.cond.Wait()
	}
	data := h.result
	h.responseValid = false
	h.responseAck = true
	h.requestValid = false
	h.cond.Broadcast()
	h.mu.Unlock()
	return data
}

// serve is the helper goroutine's loop: wait for a request, read is
// performed by the caller-supplied readOne, publish the result.
func (h *selectHandshake) serve(readOne func() []byte) {
	for {
		h.mu.Lock()
		for !h.requestValid && !h.exitThreadRequested {
			h.cond.Wait()
		}
		if h.exitThreadRequested {
			h.mu.Unlock()
			return
		}
		h.mu.Unlock()

		data := readOne()

		h.mu.Lock()
		h.result = data
		h.responseValid = true
		h.responseAck = false
		h.cond.Broadcast()
		for !h.responseAck && !h.exitThreadRequested {
			h.cond.Wait()
		}
		h.mu.Unlock()
	}
}

func (h *selectHandshake) shutdown() {
	h.mu.Lock()
	h.exitThreadRequested = true
	h.cond.Broadcast()
	h.mu.Unlock()
}

// serialLoopPthread is the threaded-fallback variant of serialLoop,
// selected when cfg.Pthread is set (SPEC_FULL.md's kernel-gating
// decision in cmd/swtserver chooses this by default on kernels where
// the event-loop path has historically been unreliable for serial
// devices). Semantics are identical to serialLoop; only the
// synchronization mechanism differs.
func (m *Multiplexer) serialLoopPthread(ctx context.Context) {
	chunk := make([]byte, m.cfg.SerialChunkBytes)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		port, err := m.open()
		if err != nil {
			if !m.warnedSerialClosed {
				m.log.WithError(err).Warn("serial device unavailable, will retry")
				m.warnedSerialClosed = true
			}
			if !sleepOrDone(ctx, m.cfg.ReconnectInterval) {
				return
			}
			continue
		}
		m.warnedSerialClosed = false
		m.log.Info("serial link open (pthread fallback mode)")

		h := newSelectHandshake()
		go h.serve(func() []byte {
			n, err := port.Read(chunk)
			if n <= 0 || err != nil {
				return nil
			}
			out := make([]byte, n)
			copy(out, chunk[:n])
			return out
		})

		for {
			select {
			case <-ctx.Done():
				h.shutdown()
				port.Close()
				return
			default:
			}
			data := h.request()
			if data == nil {
				h.shutdown()
				port.Close()
				if !m.warnedSerialClosed {
					m.log.Warn("serial device disconnected, polling for reconnect")
					m.warnedSerialClosed = true
				}
				break
			}
			m.feed(data)
		}
		if !sleepOrDone(ctx, m.cfg.ReconnectInterval) {
			return
		}
	}
}
