// Package broker implements the front-channel/back-channel relay between
// remote callers and the worker pool.
//
// The broker accepts caller connections on a TCP listener, tags every inbound
// frame with a per-connection caller token, and queues the (token, payload)
// pair on a back-channel all workers pull from. A worker's reply is routed
// back to the exact connection the token names. Payloads are opaque: the
// broker never rejects traffic based on content, malformed requests travel
// through to a worker which answers with an error reply.
//
// Distribution across workers is fair-ish by construction since every worker
// competes for the head of one queue, and independent callers never block
// each other beyond the queue itself.
package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/ruteri/secure-rpc-broker/interfaces"
)

// DefaultQueueSize is the back-channel depth used when the config leaves
// QueueSize zero.
const DefaultQueueSize = 64

// Config holds broker construction parameters.
type Config struct {
	// ListenAddr is the public-facing host:port to bind.
	ListenAddr string

	// QueueSize bounds the back-channel. When all workers are busy and the
	// queue is full, connection readers block, which backpressures callers.
	QueueSize int

	Log *slog.Logger
}

// Broker relays opaque frames between caller connections and the worker
// pool. It implements interfaces.BrokerTransport.
type Broker struct {
	cfg *Config
	log *slog.Logger

	listener net.Listener
	frames   chan interfaces.Frame
	done     chan struct{}
	closed   atomic.Bool

	mu    sync.RWMutex
	conns map[interfaces.CallerToken]*callerConn
	wg    sync.WaitGroup
}

var _ interfaces.BrokerTransport = (*Broker)(nil)

// callerConn is one accepted connection. Writes are serialized so replies
// from different workers never interleave mid-frame.
type callerConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// New creates a broker. Listen must be called before Frames carries data.
func New(cfg *Config) *Broker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Broker{
		cfg:    cfg,
		log:    cfg.Log,
		frames: make(chan interfaces.Frame, cfg.QueueSize),
		done:   make(chan struct{}),
		conns:  make(map[interfaces.CallerToken]*callerConn),
	}
}

// Listen binds the configured address and starts accepting callers. It
// returns once the listener is bound; accepting runs in the background until
// Close.
func (b *Broker) Listen() error {
	listener, err := net.Listen("tcp", b.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("could not bind %s: %w", b.cfg.ListenAddr, err)
	}
	b.listener = listener
	b.log.Info("Broker listening", "listenAddress", listener.Addr().String())

	b.wg.Add(1)
	go b.acceptLoop()
	return nil
}

// Addr returns the bound listener address, useful when listening on :0.
func (b *Broker) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Frames returns the back-channel the worker pool consumes.
func (b *Broker) Frames() <-chan interfaces.Frame {
	return b.frames
}

// Reply routes a reply frame to the connection its caller token names.
// Replies for connections that already closed are dropped, matching the
// at-most-one-response contract: the caller abandoned the request.
func (b *Broker) Reply(frame interfaces.Frame) error {
	b.mu.RLock()
	caller, ok := b.conns[frame.Caller]
	b.mu.RUnlock()
	if !ok {
		b.log.Debug("Dropping reply for closed connection", "caller", string(frame.Caller))
		return nil
	}

	caller.writeMu.Lock()
	defer caller.writeMu.Unlock()
	if err := WriteFrame(caller.conn, frame.Payload); err != nil {
		return fmt.Errorf("could not deliver reply to %s: %w", string(frame.Caller), err)
	}
	return nil
}

// Close stops the listener and tears down all caller connections.
func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	close(b.done)
	var err error
	if b.listener != nil {
		err = b.listener.Close()
	}

	b.mu.Lock()
	for _, caller := range b.conns {
		caller.conn.Close()
	}
	b.mu.Unlock()

	b.wg.Wait()
	return err
}

func (b *Broker) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if b.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			b.log.Error("Accept failed", "err", err)
			continue
		}

		b.wg.Add(1)
		go b.serveConn(conn)
	}
}

// serveConn pumps inbound frames from one caller onto the back-channel. The
// caller token lives exactly as long as the connection.
func (b *Broker) serveConn(conn net.Conn) {
	defer b.wg.Done()

	token := interfaces.CallerToken(uuid.NewString())
	caller := &callerConn{conn: conn}

	b.mu.Lock()
	b.conns[token] = caller
	b.mu.Unlock()

	b.log.Debug("Caller connected", "caller", string(token), "remoteAddress", conn.RemoteAddr().String())

	defer func() {
		b.mu.Lock()
		delete(b.conns, token)
		b.mu.Unlock()
		conn.Close()
		b.log.Debug("Caller disconnected", "caller", string(token))
	}()

	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			if !b.closed.Load() && !errors.Is(err, net.ErrClosed) {
				b.log.Debug("Caller read ended", "caller", string(token), "err", err)
			}
			return
		}
		select {
		case b.frames <- interfaces.Frame{Caller: token, Payload: payload}:
		case <-b.done:
			return
		}
	}
}
