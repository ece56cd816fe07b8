/*
Package rpcserver implements the server side of the encrypted RPC protocol.

A Server owns one X25519 keypair for its process lifetime, a function
registry, a credential authenticator, a shared variable store, and the broker
that relays frames between callers and the worker pool.

# Request lifecycle

Each worker processes one frame at a time:

 1. Decode the outer envelope. Malformed payloads yield a plaintext error
    reply; the worker loop survives bad input indefinitely.
 2. HELLO envelopes are answered with HELLO_ACK directly, in plaintext,
    without touching function dispatch.
 3. RPC envelopes are decrypted with the session derived from the server key
    and the caller-declared public key. Decryption failure yields an error
    reply and affects no other session.
 4. The function name is resolved in the registry; unknown names yield a
    "not found" error reply.
 5. Non-public functions authenticate the request's credential. The resolved
    identity is bound to this call only.
 6. The function body runs; returned errors and panics become error replies
    carrying the message verbatim. A function body can never terminate its
    worker.
 7. The reply is encrypted under the caller's session and routed back through
    the broker. Errors raised before the session was viable go back in
    plaintext.

Workers are stateless and interchangeable: authentication data travels inside
every request, and no caller may depend on hitting the same worker twice.

# Built-ins

Two registry entries are always present: __get_public_key__ (public) returns
the server's public key, and __update_shared_var__ (authenticated) sets one
shared variable on behalf of the client's shared-value proxy.

# Trust model

Encryption binds to the public key the caller declares in each envelope. The
handshake pins keys trust-on-first-use; nothing proves ownership of a claimed
key beyond the transport-level caller binding. Deployments that need more can
pin the server key out-of-band via the diagnostics HTTP endpoint.
*/
package rpcserver
