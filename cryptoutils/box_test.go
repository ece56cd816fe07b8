package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionBoxRoundTrip(t *testing.T) {
	server, err := GenerateKeypair()
	require.NoError(t, err)
	client, err := GenerateKeypair()
	require.NoError(t, err)

	clientSide := NewSessionBox(client.Private, server.Public)
	serverSide := NewSessionBox(server.Private, client.Public)

	plaintext := []byte(`{"func":"echo","args":["hello"]}`)
	cipher, err := clientSide.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, string(plaintext), cipher)

	opened, err := serverSide.Open(cipher)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

// Two clients handshaking with the same server must end up with independent
// session channels: a ciphertext sealed under one must not open under the other.
func TestSessionBoxIndependentSessions(t *testing.T) {
	server, err := GenerateKeypair()
	require.NoError(t, err)
	clientA, err := GenerateKeypair()
	require.NoError(t, err)
	clientB, err := GenerateKeypair()
	require.NoError(t, err)

	sessionA := NewSessionBox(clientA.Private, server.Public)
	serverWithB := NewSessionBox(server.Private, clientB.Public)

	cipher, err := sessionA.Seal([]byte("for session A only"))
	require.NoError(t, err)

	_, err = serverWithB.Open(cipher)
	require.ErrorIs(t, err, ErrOpenFailed)
}

func TestSessionBoxTamperedCiphertext(t *testing.T) {
	server, err := GenerateKeypair()
	require.NoError(t, err)
	client, err := GenerateKeypair()
	require.NoError(t, err)

	sender := NewSessionBox(client.Private, server.Public)
	receiver := NewSessionBox(server.Private, client.Public)

	cipher, err := sender.Seal([]byte("payload"))
	require.NoError(t, err)

	// Flip a character inside the base64 body.
	tampered := []byte(cipher)
	if tampered[40] == 'A' {
		tampered[40] = 'B'
	} else {
		tampered[40] = 'A'
	}
	_, err = receiver.Open(string(tampered))
	assert.Error(t, err)

	_, err = receiver.Open("not base64 at all!!!")
	assert.Error(t, err)

	_, err = receiver.Open("c2hvcnQ=") // valid base64, shorter than a nonce
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestDecodePublicKey(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	decoded, err := DecodePublicKey(kp.PublicKeyBase64())
	require.NoError(t, err)
	assert.Equal(t, kp.Public, decoded)

	_, err = DecodePublicKey("%%%")
	assert.Error(t, err)

	_, err = DecodePublicKey("dG9vc2hvcnQ=")
	assert.Error(t, err)
}
