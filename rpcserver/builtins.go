package rpcserver

import (
	"context"
	"fmt"

	"github.com/ruteri/secure-rpc-broker/interfaces"
)

// getPublicKey serves the handshake-adjacent public discovery call.
func (s *Server) getPublicKey(ctx context.Context, call *interfaces.Call) (any, error) {
	return s.keypair.PublicKeyBase64(), nil
}

// updateSharedVar sets one shared variable: args are (key, value). The
// client's shared proxy calls this on every local assignment.
func (s *Server) updateSharedVar(ctx context.Context, call *interfaces.Call) (any, error) {
	if len(call.Args) != 2 {
		return nil, fmt.Errorf("%s expects (key, value), got %d arguments", FuncUpdateSharedVar, len(call.Args))
	}
	key, ok := call.Args[0].(string)
	if !ok {
		return nil, fmt.Errorf("%s key must be a string", FuncUpdateSharedVar)
	}
	s.shared.Set(key, call.Args[1])
	s.log.Debug("Shared variable updated", "key", key, "identity", string(call.Identity))
	return true, nil
}
