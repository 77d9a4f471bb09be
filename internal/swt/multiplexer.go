package swt

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/riscv-trace/dqr/internal/config"
	"github.com/riscv-trace/dqr/internal/itc"
)

// SerialOpener opens (or reopens) the underlying trace cable. It is a
// function rather than a fixed *serial.Port so tests can substitute a
// MessageStreamBuilder-backed fake (spec.md §4.9, "temp scaffolding
// before we have a serial cable").
type SerialOpener func() (io.ReadWriteCloser, error)

// Multiplexer is C9: it accepts TCP subscribers, pumps bytes read from
// the serial link to every one of them, and tolerates serial
// disconnect/reconnect (spec.md §4.9). Event-loop mode is the default:
// one goroutine owns the listener, one owns the serial link, and each
// Client owns its own writer goroutine; Go's runtime netpoller plays
// the role the original's single-threaded select() loop played, so
// acquiring a lock to hold the fan-out ordering invariant (spec.md §8
// property 8) is the only synchronization this needs.
type Multiplexer struct {
	cfg    config.SWT
	listen net.Listener
	open   SerialOpener
	log    *logrus.Entry
	itcAgg *itc.Aggregator

	mu                 sync.Mutex
	clients            map[xid.ID]*Client
	highWaterClients   int
	warnedSerialClosed bool

	reassembler *Reassembler

	// cancel stops Run; removeClient calls it under AutoExit.
	cancel context.CancelFunc
}

// New builds a Multiplexer bound to listen and reading from whatever
// open returns. itcAgg may be nil; when non-nil, DATA_ACQUISITION writes
// are fed to it and, under cfg.Debug, completed ITC text is written to
// the log (SPEC_FULL.md §7).
func New(cfg config.SWT, listen net.Listener, open SerialOpener, itcAgg *itc.Aggregator, log *logrus.Entry) *Multiplexer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.HighWaterBytes == 0 {
		cfg.HighWaterBytes = config.DefaultHighWaterBytes
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = config.DefaultReconnectInterval
	}
	if cfg.SerialChunkBytes == 0 {
		cfg.SerialChunkBytes = config.DefaultSerialChunkBytes
	}
	return &Multiplexer{
		cfg:         cfg,
		listen:      listen,
		open:        open,
		log:         log,
		itcAgg:      itcAgg,
		clients:     make(map[xid.ID]*Client),
		reassembler: NewReassembler(cfg.SrcBits),
	}
}

// Clients returns a snapshot of currently connected clients.
func (m *Multiplexer) Clients() []*Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out
}

// HighWaterClients returns the peak concurrent client count observed
// (original_source/include/swt.hpp numClientsHighWater).
func (m *Multiplexer) HighWaterClients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highWaterClients
}

// DroppedReassemblies returns the count of DATA_ACQUISITION messages
// the reassembler discarded (bad field count or overflow).
func (m *Multiplexer) DroppedReassemblies() uint64 {
	return m.reassembler.Dropped()
}

// Run drives the accept loop and the serial pump until ctx is
// cancelled. It returns nil on a clean shutdown.
func (m *Multiplexer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.cancel = cancel

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.acceptLoop(ctx) }()
	if m.cfg.Pthread {
		go func() { defer wg.Done(); m.serialLoopPthread(ctx) }()
	} else {
		go func() { defer wg.Done(); m.serialLoop(ctx) }()
	}

	<-ctx.Done()
	m.listen.Close()
	for _, c := range m.Clients() {
		c.Close()
	}
	wg.Wait()
	return nil
}

func (m *Multiplexer) acceptLoop(ctx context.Context) {
	for {
		conn, err := m.listen.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			m.log.WithError(err).Warn("accept failed")
			return
		}
		c := NewClient(conn, m.cfg.HighWaterBytes, m.log)
		m.mu.Lock()
		m.clients[c.ID] = c
		if len(m.clients) > m.highWaterClients {
			m.highWaterClients = len(m.clients)
		}
		m.mu.Unlock()
		m.log.WithField("client", c.ID.String()).Info("client connected")
		go m.serviceClientReads(ctx, c)
	}
}

// serviceClientReads drains a client's inbound bytes, looking for an
// "itcmask N" filter command on its read side
// (SPEC_FULL.md §7 "itcFilterMask"), and removes it from the fan-out
// set on disconnect (half-close detection, spec.md §4.9).
func (m *Multiplexer) serviceClientReads(ctx context.Context, c *Client) {
	buf := make([]byte, 256)
	var line []byte
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			for _, b := range buf[:n] {
				if b == '\n' {
					if mask, ok := parseITCFilterCommand(string(line)); ok {
						c.SetITCFilterMask(mask)
					}
					line = line[:0]
					continue
				}
				line = append(line, b)
			}
		}
		if err != nil {
			m.removeClient(c)
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (m *Multiplexer) removeClient(c *Client) {
	m.mu.Lock()
	delete(m.clients, c.ID)
	remaining := len(m.clients)
	m.mu.Unlock()
	c.Close()
	m.log.WithField("client", c.ID.String()).Info("client disconnected")
	if m.cfg.AutoExit && remaining == 0 {
		m.log.Info("last client disconnected, autoexit configured")
		if m.cancel != nil {
			m.cancel()
		}
	}
}

// serialLoop owns the serial link: it opens it, pumps bytes to the
// reassembler and to every client, and reconnects on disconnect
// (spec.md §4.9 "Serial disconnect").
func (m *Multiplexer) serialLoop(ctx context.Context) {
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
		m.log.Info("serial link open")

		for {
			select {
			case <-ctx.Done():
				port.Close()
				return
			default:
			}
			n, err := port.Read(chunk)
			if n <= 0 || err != nil {
				port.Close()
				if !m.warnedSerialClosed {
					m.log.Warn("serial device disconnected, polling for reconnect")
					m.warnedSerialClosed = true
				}
				break
			}
			m.feed(chunk[:n])
		}
		if !sleepOrDone(ctx, m.cfg.ReconnectInterval) {
			return
		}
	}
}

// feed fans raw bytes out to every client (verbatim, spec.md §4.9
// "Bytes leaving the serial device reach every connected client in the
// order read") and independently pumps them through the reassembler.
func (m *Multiplexer) feed(data []byte) {
	for _, c := range m.Clients() {
		if justEntered := c.Enqueue(data); justEntered {
			m.log.WithField("client", c.ID.String()).Warn("client entered withholding state")
		}
	}

	for _, b := range data {
		m.reassembler.AppendByte(b)
		if msg, ok := m.reassembler.GetMessage(); ok {
			m.onDataAcquisition(msg)
		}
	}
}

func (m *Multiplexer) onDataAcquisition(msg DataAcquisitionMessage) {
	if m.itcAgg == nil {
		return
	}
	hart := uint8(msg.Src)
	ts := msg.Timestamp
	m.itcAgg.Feed(hart, msg.Idtag, uint32(msg.Data), ts)
	if m.cfg.Debug {
		if text, ok := m.itcAgg.Poll(); ok {
			m.log.WithField("hart", hart).Infof("itc: %s", text.Text)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
