package rpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ruteri/secure-rpc-broker/broker"
	"github.com/ruteri/secure-rpc-broker/cryptoutils"
	"github.com/ruteri/secure-rpc-broker/interfaces"
	"github.com/ruteri/secure-rpc-broker/registry"
	"github.com/ruteri/secure-rpc-broker/state"
)

// Built-in registry entries, always present.
const (
	// FuncGetPublicKey returns the server's public key. Public.
	FuncGetPublicKey = "__get_public_key__"

	// FuncUpdateSharedVar sets one shared variable. Used internally by the
	// client's shared-value proxy; requires authentication.
	FuncUpdateSharedVar = "__update_shared_var__"
)

// Defaults applied by New for zero config fields.
const (
	DefaultWorkerCount  = 4
	DefaultReplyTimeout = 5 * time.Second
)

// Config holds the server construction parameters.
type Config struct {
	// ListenAddr is the host:port the broker binds.
	ListenAddr string

	// ServerName is a display name used in logs only.
	ServerName string

	// WorkerCount is the fixed size of the worker pool.
	WorkerCount int

	// ReplyTimeout is the response timeout the server advertises as its
	// default; clients enforce their own deadline locally.
	ReplyTimeout time.Duration

	// Credentials maps each accepted credential string to the identity it
	// authenticates. Immutable for the server's lifetime.
	Credentials map[string]interfaces.Identity

	Log *slog.Logger
}

// Server exposes a registry of named functions to remote callers, fanning
// requests out to a pool of stateless workers over the broker.
type Server struct {
	cfg *Config
	log *slog.Logger

	keypair   cryptoutils.Keypair
	functions *registry.FunctionRegistry
	auth      *registry.Authenticator
	shared    *state.SharedStore
	broker    *broker.Broker

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	serving bool
}

// New constructs a server: it generates the process keypair and registers
// the built-in functions. The server does not accept traffic until
// RunInBackground.
func New(cfg *Config) (*Server, error) {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	keypair, err := cryptoutils.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:       cfg,
		log:       cfg.Log.With("serverName", cfg.ServerName),
		keypair:   keypair,
		functions: registry.NewFunctionRegistry(),
		auth:      registry.NewAuthenticator(cfg.Credentials),
		shared:    state.NewSharedStore(),
		broker:    broker.New(&broker.Config{ListenAddr: cfg.ListenAddr, Log: cfg.Log}),
	}

	if err := srv.functions.Register(FuncUpdateSharedVar, srv.updateSharedVar); err != nil {
		return nil, err
	}
	if err := srv.functions.RegisterPublic(FuncGetPublicKey, srv.getPublicKey); err != nil {
		return nil, err
	}

	return srv, nil
}

// Register adds a function requiring authentication. The registry is
// append-only and must be fully populated before RunInBackground; workers
// read it without locks.
func (s *Server) Register(alias string, fn interfaces.Function) error {
	if s.serving {
		return fmt.Errorf("cannot register %s: server already serving", alias)
	}
	return s.functions.Register(alias, fn)
}

// RegisterPublic adds a function callable without a credential.
func (s *Server) RegisterPublic(alias string, fn interfaces.Function) error {
	if s.serving {
		return fmt.Errorf("cannot register %s: server already serving", alias)
	}
	return s.functions.RegisterPublic(alias, fn)
}

// Shared returns the shared variable store. Registered functions may read
// and write it directly; remote callers only mutate it through the built-in
// update function.
func (s *Server) Shared() *state.SharedStore {
	return s.shared
}

// PublicKeyBase64 returns the server's public key in wire encoding.
func (s *Server) PublicKeyBase64() string {
	return s.keypair.PublicKeyBase64()
}

// Addr returns the bound listener address once serving.
func (s *Server) Addr() net.Addr {
	return s.broker.Addr()
}

// ReplyTimeout returns the configured default response timeout.
func (s *Server) ReplyTimeout() time.Duration {
	return s.cfg.ReplyTimeout
}

// RunInBackground binds the broker and starts the worker pool. It returns
// once the listener is bound.
func (s *Server) RunInBackground() error {
	if err := s.broker.Listen(); err != nil {
		return err
	}
	s.serving = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx, i)
	}

	s.log.Info("RPC server started",
		"listenAddress", s.broker.Addr().String(),
		"workers", s.cfg.WorkerCount,
	)
	return nil
}

// Shutdown stops accepting callers and waits for in-flight work to finish.
func (s *Server) Shutdown() {
	if err := s.broker.Close(); err != nil {
		s.log.Error("Broker shutdown failed", "err", err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info("RPC server stopped")
}
