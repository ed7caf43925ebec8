package providers

import (
	"golang.org/x/oauth2"

	"github.com/goliatone/go-wearables/core"
)

const PKCEMethodS256 = "S256"

// NewPKCE returns a fresh verifier (32 random bytes, base64url) and its S256
// challenge.
func NewPKCE() core.PKCE {
	verifier := oauth2.GenerateVerifier()
	return core.PKCE{
		Verifier:        verifier,
		Challenge:       oauth2.S256ChallengeFromVerifier(verifier),
		ChallengeMethod: PKCEMethodS256,
	}
}
