// Package wire implements the envelope codec: the JSON wire messages
// exchanged between client and worker, independent of transport and crypto.
//
// Three outer envelope types exist. HELLO and HELLO_ACK are the plaintext
// handshake pair; RPC carries a base64 ciphertext whose plaintext is a
// Request. Replies travel either as a bare base64 ciphertext of the reply
// JSON or, for errors produced before a session was viable, as plaintext
// reply JSON.
package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope type tags. Field names are stable wire format.
const (
	TypeHello    = "HELLO"
	TypeHelloAck = "HELLO_ACK"
	TypeRPC      = "RPC"
)

// Reply status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the outer plaintext record of every client-to-server frame.
type Envelope struct {
	Type         string `json:"type"`
	ClientPubkey string `json:"client_pubkey,omitempty"`
	ServerPubkey string `json:"server_pubkey,omitempty"`
	Cipher       string `json:"cipher,omitempty"`
}

// Request is the plaintext body of an RPC envelope's cipher field.
type Request struct {
	APIKey *string        `json:"api_key"`
	Func   string         `json:"func"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// Reply is the body routed back to the caller, encrypted when a session
// exists and plaintext otherwise.
type Reply struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OKReply wraps a function result into a success reply.
func OKReply(result any) Reply {
	return Reply{Status: StatusOK, Result: result}
}

// ErrorReply wraps a human-readable message into an error reply.
func ErrorReply(message string) Reply {
	return Reply{Status: StatusError, Error: message}
}

// DecodeEnvelope parses an outer frame and validates its type tag.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("could not parse envelope: %w", err)
	}
	switch env.Type {
	case TypeHello, TypeHelloAck, TypeRPC:
		return &env, nil
	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
}

// Encode serializes the envelope for transport.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeRequest parses a decrypted request body. The function name is the
// only mandatory field.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("could not parse request: %w", err)
	}
	if req.Func == "" {
		return nil, fmt.Errorf("request without function name")
	}
	return &req, nil
}

// Encode serializes the request body prior to encryption.
func (r *Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeReply parses a reply body. A payload that is neither a ciphertext
// nor valid reply JSON fails here.
func DecodeReply(data []byte) (*Reply, error) {
	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("could not parse reply: %w", err)
	}
	if reply.Status != StatusOK && reply.Status != StatusError {
		return nil, fmt.Errorf("unknown reply status %q", reply.Status)
	}
	return &reply, nil
}

// Encode serializes the reply body.
func (r Reply) Encode() ([]byte, error) {
	return json.Marshal(r)
}
