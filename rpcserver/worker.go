package rpcserver

import (
	"context"
	"fmt"

	"github.com/ruteri/secure-rpc-broker/cryptoutils"
	"github.com/ruteri/secure-rpc-broker/interfaces"
	"github.com/ruteri/secure-rpc-broker/wire"
)

// workerLoop pulls one frame at a time from the broker's back-channel,
// processes it to completion and pushes exactly one reply before pulling the
// next. Workers hold no per-caller state; authentication data travels inside
// each request, so no request depends on being served by the same worker as
// a previous one.
func (s *Server) workerLoop(ctx context.Context, id int) {
	defer s.wg.Done()
	log := s.log.With("worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.broker.Frames():
			reply := s.processFrame(ctx, frame.Payload)
			if err := s.broker.Reply(interfaces.Frame{Caller: frame.Caller, Payload: reply}); err != nil {
				log.Debug("Reply delivery failed", "err", err)
			}
		}
	}
}

// processFrame turns one opaque payload into one reply payload. It must
// survive arbitrary input: every failure becomes an error reply, never a
// worker crash.
//
// Errors raised before a session is viable (decode, handshake, key parsing,
// decryption) are sent as plaintext reply JSON; once the caller's public key
// has authenticated a ciphertext, replies are encrypted under that session.
func (s *Server) processFrame(ctx context.Context, payload []byte) []byte {
	env, err := wire.DecodeEnvelope(payload)
	if err != nil {
		return plaintextError(fmt.Errorf("%w: %v", interfaces.ErrDecode, err))
	}

	switch env.Type {
	case wire.TypeHello:
		return s.processHello(env)
	case wire.TypeRPC:
		return s.processRPC(ctx, env)
	default:
		// HELLO_ACK from a caller is a protocol violation.
		return plaintextError(fmt.Errorf("%w: unexpected envelope type %s", interfaces.ErrDecode, env.Type))
	}
}

// processHello answers the handshake directly, without routing through
// function dispatch. The ack is plaintext since no shared key exists yet.
func (s *Server) processHello(env *wire.Envelope) []byte {
	if _, err := cryptoutils.DecodePublicKey(env.ClientPubkey); err != nil {
		return plaintextError(fmt.Errorf("%w: %v", interfaces.ErrHandshake, err))
	}
	ack := wire.Envelope{Type: wire.TypeHelloAck, ServerPubkey: s.keypair.PublicKeyBase64()}
	data, err := ack.Encode()
	if err != nil {
		return plaintextError(err)
	}
	return data
}

func (s *Server) processRPC(ctx context.Context, env *wire.Envelope) []byte {
	peerPublic, err := cryptoutils.DecodePublicKey(env.ClientPubkey)
	if err != nil {
		return plaintextError(fmt.Errorf("%w: %v", interfaces.ErrDecrypt, err))
	}

	// The session is re-derived per call from the two keys; there is no
	// session table to consult or to poison.
	session := cryptoutils.NewSessionBox(s.keypair.Private, peerPublic)
	plaintext, err := session.Open(env.Cipher)
	if err != nil {
		return plaintextError(interfaces.ErrDecrypt)
	}

	var reply wire.Reply
	req, err := wire.DecodeRequest(plaintext)
	if err != nil {
		reply = wire.ErrorReply(fmt.Sprintf("%s: %s", interfaces.ErrDecode.Error(), err.Error()))
	} else {
		reply = s.dispatch(ctx, req)
	}

	data, err := reply.Encode()
	if err != nil {
		// Function returned a result JSON cannot represent.
		data, _ = wire.ErrorReply(fmt.Sprintf("could not encode reply: %s", err.Error())).Encode()
	}
	cipher, err := session.Seal(data)
	if err != nil {
		return plaintextError(err)
	}
	return []byte(cipher)
}

// dispatch resolves, authorizes and invokes the named function. The identity
// it binds lives only for this call.
func (s *Server) dispatch(ctx context.Context, req *wire.Request) wire.Reply {
	fn, public, ok := s.functions.Resolve(req.Func)
	if !ok {
		return wire.ErrorReply(fmt.Sprintf("%s: %s", interfaces.ErrFunctionNotFound.Error(), req.Func))
	}

	identity := interfaces.Anonymous
	if !public {
		var err error
		identity, err = s.auth.Authenticate(req.APIKey)
		if err != nil {
			return wire.ErrorReply(err.Error())
		}
	}

	result, err := s.invoke(ctx, fn, &interfaces.Call{
		Identity: identity,
		Args:     req.Args,
		Kwargs:   req.Kwargs,
	})
	if err != nil {
		// Verbatim message, no stack trace.
		return wire.ErrorReply(err.Error())
	}
	return wire.OKReply(result)
}

// invoke runs a function body, converting panics into errors so a
// misbehaving registered function can never terminate the worker.
func (s *Server) invoke(ctx context.Context, fn interfaces.Function, call *interfaces.Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return fn(ctx, call)
}

// plaintextError encodes an error reply for callers with no viable session.
func plaintextError(err error) []byte {
	data, _ := wire.ErrorReply(err.Error()).Encode()
	return data
}
