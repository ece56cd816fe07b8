package rpcserver

import (
	"context"
	"testing"
	"time"

	"github.com/ruteri/secure-rpc-broker/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	srv, err := New(&Config{ServerName: "defaults"})
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerCount, srv.cfg.WorkerCount)
	assert.Equal(t, DefaultReplyTimeout, srv.ReplyTimeout())
	assert.NotEmpty(t, srv.PublicKeyBase64())

	// Built-ins are always present.
	_, public, ok := srv.functions.Resolve(FuncGetPublicKey)
	require.True(t, ok)
	assert.True(t, public)
	_, public, ok = srv.functions.Resolve(FuncUpdateSharedVar)
	require.True(t, ok)
	assert.False(t, public)
}

func TestRegisterAfterServingFails(t *testing.T) {
	srv, err := New(&Config{ListenAddr: "127.0.0.1:0", ServerName: "frozen", WorkerCount: 1})
	require.NoError(t, err)
	require.NoError(t, srv.RunInBackground())
	defer srv.Shutdown()

	err = srv.Register("late", func(ctx context.Context, call *interfaces.Call) (any, error) { return nil, nil })
	assert.Error(t, err)
	err = srv.RegisterPublic("late_public", func(ctx context.Context, call *interfaces.Call) (any, error) { return nil, nil })
	assert.Error(t, err)
}

func TestShutdownStopsWorkers(t *testing.T) {
	srv, err := New(&Config{ListenAddr: "127.0.0.1:0", ServerName: "stopping", WorkerCount: 2})
	require.NoError(t, err)
	require.NoError(t, srv.RunInBackground())
	require.NotNil(t, srv.Addr())

	done := make(chan struct{})
	go func() {
		srv.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Shutdown did not complete")
	}
}
