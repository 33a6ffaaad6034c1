package auth

import (
	"bytes"

	"golang.org/x/crypto/bcrypt"

	"github.com/xmp3io/xmp3/storage"
)

// Plain implements SASL PLAIN (RFC 4616): the response is
// authzid\0authcid\0password, NUL-separated, already base64-decoded by
// the caller.
type Plain struct {
	repo storage.Repository
}

// NewPlain creates a PLAIN authenticator backed by repo.
func NewPlain(repo storage.Repository) *Plain {
	return &Plain{repo: repo}
}

func (p *Plain) Mechanism() string { return "PLAIN" }

func (p *Plain) Authenticate(response []byte) (string, error) {
	parts := bytes.SplitN(response, []byte{0}, 3)
	if len(parts) != 3 {
		return "", &ErrInvalidResponse{Reason: "expected authzid\\0authcid\\0password"}
	}
	username := string(parts[1])
	password := parts[2]

	user, err := p.repo.FetchUser(username)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrAuthenticationFailed
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), password) != nil {
		return "", ErrAuthenticationFailed
	}
	return username, nil
}
