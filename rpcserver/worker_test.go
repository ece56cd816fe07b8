package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ruteri/secure-rpc-broker/cryptoutils"
	"github.com/ruteri/secure-rpc-broker/interfaces"
	"github.com/ruteri/secure-rpc-broker/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(&Config{
		ServerName: "test",
		Credentials: map[string]interfaces.Identity{
			"key-alice": "alice",
		},
	})
	require.NoError(t, err)
	return srv
}

// testSession simulates one handshaken client against the server.
type testSession struct {
	keypair cryptoutils.Keypair
	session *cryptoutils.SessionBox
}

func newTestSession(t *testing.T, srv *Server) *testSession {
	t.Helper()
	kp, err := cryptoutils.GenerateKeypair()
	require.NoError(t, err)
	serverPub, err := cryptoutils.DecodePublicKey(srv.PublicKeyBase64())
	require.NoError(t, err)
	return &testSession{keypair: kp, session: cryptoutils.NewSessionBox(kp.Private, serverPub)}
}

// roundTrip seals a request, runs it through the worker path, and opens the
// encrypted reply.
func (ts *testSession) roundTrip(t *testing.T, srv *Server, req wire.Request) *wire.Reply {
	t.Helper()
	plaintext, err := req.Encode()
	require.NoError(t, err)
	cipher, err := ts.session.Seal(plaintext)
	require.NoError(t, err)
	envelope, err := (&wire.Envelope{
		Type:         wire.TypeRPC,
		ClientPubkey: ts.keypair.PublicKeyBase64(),
		Cipher:       cipher,
	}).Encode()
	require.NoError(t, err)

	replyPayload := srv.processFrame(context.Background(), envelope)

	opened, err := ts.session.Open(string(replyPayload))
	require.NoError(t, err, "reply after a viable session must be encrypted")
	reply, err := wire.DecodeReply(opened)
	require.NoError(t, err)
	return reply
}

func apiKey(k string) *string { return &k }

func TestProcessHello(t *testing.T) {
	srv := newTestServer(t)
	ts := newTestSession(t, srv)

	hello, err := (&wire.Envelope{Type: wire.TypeHello, ClientPubkey: ts.keypair.PublicKeyBase64()}).Encode()
	require.NoError(t, err)

	ackPayload := srv.processFrame(context.Background(), hello)
	ack, err := wire.DecodeEnvelope(ackPayload)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeHelloAck, ack.Type)
	assert.Equal(t, srv.PublicKeyBase64(), ack.ServerPubkey)
}

func TestProcessHelloBadKey(t *testing.T) {
	srv := newTestServer(t)
	hello, err := (&wire.Envelope{Type: wire.TypeHello, ClientPubkey: "bogus"}).Encode()
	require.NoError(t, err)

	reply, err := wire.DecodeReply(srv.processFrame(context.Background(), hello))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusError, reply.Status)
}

func TestProcessFrameMalformedPayload(t *testing.T) {
	srv := newTestServer(t)
	for _, payload := range [][]byte{
		[]byte("not json at all"),
		[]byte(`{"type":"UNKNOWN"}`),
		[]byte(`{}`),
		nil,
	} {
		replyPayload := srv.processFrame(context.Background(), payload)
		reply, err := wire.DecodeReply(replyPayload)
		require.NoError(t, err, "malformed frames must yield plaintext error replies")
		assert.Equal(t, wire.StatusError, reply.Status)
	}
}

func TestProcessRPCUndecryptable(t *testing.T) {
	srv := newTestServer(t)
	ts := newTestSession(t, srv)

	// Valid envelope, garbage ciphertext: an RPC sent before any handshake
	// completed, or sealed under the wrong keys.
	envelope, err := (&wire.Envelope{
		Type:         wire.TypeRPC,
		ClientPubkey: ts.keypair.PublicKeyBase64(),
		Cipher:       "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
	}).Encode()
	require.NoError(t, err)

	reply, err := wire.DecodeReply(srv.processFrame(context.Background(), envelope))
	require.NoError(t, err, "decrypt failures are answered in plaintext")
	assert.Equal(t, wire.StatusError, reply.Status)
	assert.Contains(t, reply.Error, "decryption failed")
}

func TestDispatchEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Register("add", func(ctx context.Context, call *interfaces.Call) (any, error) {
		// JSON numbers arrive as float64.
		a, _ := call.Args[0].(float64)
		b, _ := call.Args[1].(float64)
		return a + b, nil
	}))

	ts := newTestSession(t, srv)
	reply := ts.roundTrip(t, srv, wire.Request{
		APIKey: apiKey("key-alice"),
		Func:   "add",
		Args:   []any{2, 3},
	})
	require.Equal(t, wire.StatusOK, reply.Status)
	assert.EqualValues(t, 5, reply.Result)
}

func TestDispatchFunctionNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := newTestSession(t, srv)

	// Both the authenticated and the anonymous path report not-found.
	for _, key := range []*string{apiKey("key-alice"), nil} {
		reply := ts.roundTrip(t, srv, wire.Request{APIKey: key, Func: "no_such_function"})
		require.Equal(t, wire.StatusError, reply.Status)
		assert.Contains(t, reply.Error, "not found")
	}
}

func TestDispatchAuthentication(t *testing.T) {
	srv := newTestServer(t)

	invoked := 0
	require.NoError(t, srv.Register("protected", func(ctx context.Context, call *interfaces.Call) (any, error) {
		invoked++
		return string(call.Identity), nil
	}))

	ts := newTestSession(t, srv)

	// Missing credential: the body must never run.
	reply := ts.roundTrip(t, srv, wire.Request{Func: "protected"})
	require.Equal(t, wire.StatusError, reply.Status)
	assert.Contains(t, reply.Error, "authentication failed")
	assert.Zero(t, invoked)

	// Unknown credential.
	reply = ts.roundTrip(t, srv, wire.Request{APIKey: apiKey("key-mallory"), Func: "protected"})
	require.Equal(t, wire.StatusError, reply.Status)
	assert.Zero(t, invoked)

	// Valid credential binds the identity for this call only.
	reply = ts.roundTrip(t, srv, wire.Request{APIKey: apiKey("key-alice"), Func: "protected"})
	require.Equal(t, wire.StatusOK, reply.Status)
	assert.Equal(t, "alice", reply.Result)
	assert.Equal(t, 1, invoked)
}

func TestDispatchFunctionErrorVerbatim(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.RegisterPublic("failing", func(ctx context.Context, call *interfaces.Call) (any, error) {
		return nil, errors.New("division by zero")
	}))

	ts := newTestSession(t, srv)
	reply := ts.roundTrip(t, srv, wire.Request{Func: "failing"})
	require.Equal(t, wire.StatusError, reply.Status)
	assert.Equal(t, "division by zero", reply.Error)
}

func TestDispatchFunctionPanicRecovered(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.RegisterPublic("panicking", func(ctx context.Context, call *interfaces.Call) (any, error) {
		panic("boom")
	}))

	ts := newTestSession(t, srv)
	reply := ts.roundTrip(t, srv, wire.Request{Func: "panicking"})
	require.Equal(t, wire.StatusError, reply.Status)
	assert.Equal(t, "boom", reply.Error)

	// The worker path must still serve after a panic.
	reply = ts.roundTrip(t, srv, wire.Request{Func: FuncGetPublicKey})
	assert.Equal(t, wire.StatusOK, reply.Status)
}

func TestBuiltinGetPublicKeyIsPublic(t *testing.T) {
	srv := newTestServer(t)
	ts := newTestSession(t, srv)

	reply := ts.roundTrip(t, srv, wire.Request{Func: FuncGetPublicKey})
	require.Equal(t, wire.StatusOK, reply.Status)
	assert.Equal(t, srv.PublicKeyBase64(), reply.Result)
}

func TestBuiltinUpdateSharedVar(t *testing.T) {
	srv := newTestServer(t)
	ts := newTestSession(t, srv)

	// Requires authentication.
	reply := ts.roundTrip(t, srv, wire.Request{Func: FuncUpdateSharedVar, Args: []any{"x", 5}})
	require.Equal(t, wire.StatusError, reply.Status)
	assert.Contains(t, reply.Error, "authentication failed")

	reply = ts.roundTrip(t, srv, wire.Request{APIKey: apiKey("key-alice"), Func: FuncUpdateSharedVar, Args: []any{"x", 5}})
	require.Equal(t, wire.StatusOK, reply.Status)
	assert.Equal(t, true, reply.Result)
	assert.EqualValues(t, 5, srv.Shared().Get("x", nil))

	// Registered functions observe the update.
	require.NoError(t, srv.RegisterPublic("read_x", func(ctx context.Context, call *interfaces.Call) (any, error) {
		return srv.Shared().Get("x", nil), nil
	}))
	reply = ts.roundTrip(t, srv, wire.Request{Func: "read_x"})
	require.Equal(t, wire.StatusOK, reply.Status)
	assert.EqualValues(t, 5, reply.Result)

	// Argument validation.
	reply = ts.roundTrip(t, srv, wire.Request{APIKey: apiKey("key-alice"), Func: FuncUpdateSharedVar, Args: []any{"only-key"}})
	assert.Equal(t, wire.StatusError, reply.Status)
	reply = ts.roundTrip(t, srv, wire.Request{APIKey: apiKey("key-alice"), Func: FuncUpdateSharedVar, Args: []any{42, "value"}})
	assert.Equal(t, wire.StatusError, reply.Status)
}

func TestSessionsDoNotInterfere(t *testing.T) {
	srv := newTestServer(t)
	a := newTestSession(t, srv)
	b := newTestSession(t, srv)

	// Seal under session A, declare B's public key: authenticated decryption
	// must fail rather than decrypt to garbage.
	plaintext, err := (&wire.Request{Func: FuncGetPublicKey}).Encode()
	require.NoError(t, err)
	cipher, err := a.session.Seal(plaintext)
	require.NoError(t, err)
	envelope, err := (&wire.Envelope{
		Type:         wire.TypeRPC,
		ClientPubkey: b.keypair.PublicKeyBase64(),
		Cipher:       cipher,
	}).Encode()
	require.NoError(t, err)

	reply, err := wire.DecodeReply(srv.processFrame(context.Background(), envelope))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusError, reply.Status)
	assert.Contains(t, reply.Error, "decryption failed")

	// Both sessions keep working afterwards.
	assert.Equal(t, wire.StatusOK, a.roundTrip(t, srv, wire.Request{Func: FuncGetPublicKey}).Status)
	assert.Equal(t, wire.StatusOK, b.roundTrip(t, srv, wire.Request{Func: FuncGetPublicKey}).Status)
}

func TestUnencodableResultBecomesError(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.RegisterPublic("bad_result", func(ctx context.Context, call *interfaces.Call) (any, error) {
		return make(chan int), nil
	}))

	ts := newTestSession(t, srv)
	reply := ts.roundTrip(t, srv, wire.Request{Func: "bad_result"})
	require.Equal(t, wire.StatusError, reply.Status)
	assert.Contains(t, reply.Error, "could not encode reply")
}

func ExampleServer_Register() {
	srv, _ := New(&Config{ServerName: "example"})
	_ = srv.RegisterPublic("greet", func(ctx context.Context, call *interfaces.Call) (any, error) {
		name, _ := call.Kwargs["name"].(string)
		return fmt.Sprintf("hello %s", name), nil
	})
}
