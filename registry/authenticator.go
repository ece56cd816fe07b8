package registry

import (
	"fmt"

	"github.com/ruteri/secure-rpc-broker/interfaces"
)

// Authenticator validates the credential presented with a request against a
// fixed credential-to-identity mapping. The mapping is copied at
// construction and immutable for the server's lifetime.
type Authenticator struct {
	identities map[string]interfaces.Identity
}

// NewAuthenticator builds an authenticator from a credential mapping.
func NewAuthenticator(credentials map[string]interfaces.Identity) *Authenticator {
	identities := make(map[string]interfaces.Identity, len(credentials))
	for credential, identity := range credentials {
		identities[credential] = identity
	}
	return &Authenticator{identities: identities}
}

// Authenticate resolves a credential to an identity. A missing credential on
// a protected call is an authentication error, same as an unknown one.
func (a *Authenticator) Authenticate(credential *string) (interfaces.Identity, error) {
	if credential == nil {
		return interfaces.Anonymous, fmt.Errorf("%w: no credential provided", interfaces.ErrAuthentication)
	}
	identity, ok := a.identities[*credential]
	if !ok {
		return interfaces.Anonymous, fmt.Errorf("%w: unknown credential", interfaces.ErrAuthentication)
	}
	return identity, nil
}
