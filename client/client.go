// Package client implements the caller side of the RPC protocol: a
// per-connection keypair, the synchronous HELLO/HELLO_ACK handshake on
// Dial, and a strict request/reply call cycle with a response timeout.
//
// A client carries one connection and allows one outstanding call at a time;
// concurrent calls from one process require separate clients. A call that
// times out abandons the reply locally and closes the connection, since a
// late reply would desynchronize the request/reply discipline. The server
// may still complete the abandoned work with no observer.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ruteri/secure-rpc-broker/broker"
	"github.com/ruteri/secure-rpc-broker/cryptoutils"
	"github.com/ruteri/secure-rpc-broker/interfaces"
	"github.com/ruteri/secure-rpc-broker/wire"
)

// DefaultTimeout bounds the wait for a reply when the config leaves
// Timeout zero.
const DefaultTimeout = 5 * time.Second

// Config holds client construction parameters.
type Config struct {
	// ServerAddr is the broker's host:port.
	ServerAddr string

	// APIKey is the credential presented with every request. Empty means
	// anonymous: only public functions are callable.
	APIKey string

	// Timeout bounds the handshake and every call's wait for a reply.
	Timeout time.Duration

	Log *slog.Logger
}

// Client is a connected, handshaken RPC caller.
type Client struct {
	cfg *Config
	log *slog.Logger

	mu        sync.Mutex // one outstanding call per connection
	conn      net.Conn
	keypair   cryptoutils.Keypair
	serverPub *[cryptoutils.KeySize]byte
	session   *cryptoutils.SessionBox
	closed    bool

	// Shared mirrors shared-variable writes to the server. See SharedProxy.
	Shared *SharedProxy
}

// Dial generates a connection keypair, connects to the server and performs
// the handshake synchronously. It fails with interfaces.ErrHandshake if the
// server does not answer a valid HELLO_ACK within the timeout; the returned
// client is ready for encrypted calls.
func Dial(cfg *Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	keypair, err := cryptoutils.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", cfg.ServerAddr, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", cfg.ServerAddr, err)
	}

	c := &Client{
		cfg:     cfg,
		log:     cfg.Log,
		conn:    conn,
		keypair: keypair,
	}
	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	c.Shared = newSharedProxy(c)
	return c, nil
}

// handshake sends HELLO with the connection's public key and pins the
// server key from the ack. It is the first exchange on the fresh connection
// and always travels in plaintext; there is no shared key yet.
func (c *Client) handshake() error {
	hello, err := (&wire.Envelope{
		Type:         wire.TypeHello,
		ClientPubkey: c.keypair.PublicKeyBase64(),
	}).Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrHandshake, err)
	}

	payload, err := c.exchange(hello)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrHandshake, err)
	}

	ack, err := wire.DecodeEnvelope(payload)
	if err != nil || ack.Type != wire.TypeHelloAck {
		return fmt.Errorf("%w: reply was not a HELLO_ACK", interfaces.ErrHandshake)
	}
	serverPub, err := cryptoutils.DecodePublicKey(ack.ServerPubkey)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrHandshake, err)
	}

	c.serverPub = serverPub
	c.session = cryptoutils.NewSessionBox(c.keypair.Private, serverPub)
	c.log.Debug("Handshake established", "serverAddress", c.cfg.ServerAddr)
	return nil
}

// Call invokes a remote function with positional arguments only.
func (c *Client) Call(name string, args ...any) (any, error) {
	return c.CallKwargs(name, args, nil)
}

// CallKwargs invokes a remote function with positional and keyword
// arguments. It blocks until the matching reply arrives or the timeout
// elapses. Server-side failures come back as *interfaces.RemoteError;
// channel-level failures (timeout, undecodable reply) as wrapped sentinels.
func (c *Client) CallKwargs(name string, args []any, kwargs map[string]any) (any, error) {
	req := wire.Request{Func: name, Args: args, Kwargs: kwargs}
	if c.cfg.APIKey != "" {
		req.APIKey = &c.cfg.APIKey
	}

	plaintext, err := req.Encode()
	if err != nil {
		return nil, fmt.Errorf("could not encode request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, net.ErrClosed
	}

	cipher, err := c.session.Seal(plaintext)
	if err != nil {
		return nil, err
	}
	envelope, err := (&wire.Envelope{
		Type:         wire.TypeRPC,
		ClientPubkey: c.keypair.PublicKeyBase64(),
		Cipher:       cipher,
	}).Encode()
	if err != nil {
		return nil, err
	}

	raw, err := c.exchange(envelope)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			// The connection is desynchronized once a reply is abandoned.
			c.closeLocked()
			return nil, fmt.Errorf("%w: %s", interfaces.ErrTimeout, name)
		}
		return nil, err
	}

	reply, err := c.decodeReply(raw)
	if err != nil {
		return nil, err
	}
	if reply.Status != wire.StatusOK {
		return nil, &interfaces.RemoteError{Message: reply.Error}
	}
	return reply.Result, nil
}

// decodeReply opens an encrypted reply, falling back to plaintext decode:
// servers answer in clear for errors produced before a session was viable.
func (c *Client) decodeReply(raw []byte) (*wire.Reply, error) {
	if opened, err := c.session.Open(string(raw)); err == nil {
		return wire.DecodeReply(opened)
	}
	reply, err := wire.DecodeReply(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: reply neither decrypts nor parses", interfaces.ErrDecrypt)
	}
	return reply, nil
}

// exchange writes one frame and blocks for one reply frame, bounded by the
// configured timeout.
func (c *Client) exchange(payload []byte) ([]byte, error) {
	deadline := time.Now().Add(c.cfg.Timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if err := broker.WriteFrame(c.conn, payload); err != nil {
		return nil, err
	}
	return broker.ReadFrame(c.conn)
}

// Close tears down the connection. The client is unusable afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
