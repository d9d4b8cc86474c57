package auth

import (
	"errors"
	"strings"

	googleAuthIDTokenVerifier "github.com/futurenda/google-auth-id-token-verifier"
)

var ErrFederationDisabled = errors.New("google sign-in not configured")

// GoogleIdentity is the verified subset of a Google ID token.
type GoogleIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// IDTokenVerifier verifies federated identity tokens.
type IDTokenVerifier interface {
	Verify(idToken string) (GoogleIdentity, error)
}

// GoogleVerifier checks Google-issued ID tokens against one OAuth client id.
type GoogleVerifier struct {
	ClientID string
}

// Verify validates signature, expiry and audience, then decodes the identity.
func (g GoogleVerifier) Verify(idToken string) (GoogleIdentity, error) {
	if g.ClientID == "" {
		return GoogleIdentity{}, ErrFederationDisabled
	}
	v := googleAuthIDTokenVerifier.Verifier{}
	if err := v.VerifyIDToken(idToken, []string{g.ClientID}); err != nil {
		return GoogleIdentity{}, errors.Join(ErrInvalidToken, err)
	}
	claimSet, err := googleAuthIDTokenVerifier.Decode(idToken)
	if err != nil {
		return GoogleIdentity{}, errors.Join(ErrInvalidToken, err)
	}
	if claimSet.Sub == "" || claimSet.Email == "" {
		return GoogleIdentity{}, errors.Join(ErrInvalidToken, errors.New("token lacks subject or email"))
	}
	return GoogleIdentity{
		Subject:       claimSet.Sub,
		Email:         strings.ToLower(claimSet.Email),
		EmailVerified: claimSet.EmailVerified,
		Name:          claimSet.Name,
	}, nil
}
