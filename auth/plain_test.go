package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xmp3io/xmp3/storage/model"
)

type fakeRepo struct {
	users map[string]*model.User
}

func (f *fakeRepo) FetchUser(username string) (*model.User, error) { return f.users[username], nil }
func (f *fakeRepo) UpsertUser(u *model.User) error                 { f.users[u.Username] = u; return nil }
func (f *fakeRepo) FetchRoster(username string) ([]model.RosterItem, error) { return nil, nil }

func newFakeRepo(username, password string) *fakeRepo {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return &fakeRepo{users: map[string]*model.User{
		username: {Username: username, PasswordHash: string(hash)},
	}}
}

func TestPlainAuthenticateSuccess(t *testing.T) {
	repo := newFakeRepo("alice", "secret")
	p := NewPlain(repo)

	username, err := p.Authenticate([]byte("\x00alice\x00secret"))
	require.NoError(t, err)
	require.Equal(t, "alice", username)
}

func TestPlainAuthenticateBadPassword(t *testing.T) {
	repo := newFakeRepo("alice", "secret")
	p := NewPlain(repo)

	_, err := p.Authenticate([]byte("\x00alice\x00wrong"))
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestPlainAuthenticateUnknownUser(t *testing.T) {
	repo := newFakeRepo("alice", "secret")
	p := NewPlain(repo)

	_, err := p.Authenticate([]byte("\x00mallory\x00whatever"))
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestPlainAuthenticateMalformed(t *testing.T) {
	repo := newFakeRepo("alice", "secret")
	p := NewPlain(repo)

	_, err := p.Authenticate([]byte("not-sasl-plain"))
	require.Error(t, err)
	var invalid *ErrInvalidResponse
	require.ErrorAs(t, err, &invalid)
}

func TestMechanism(t *testing.T) {
	p := NewPlain(newFakeRepo("alice", "secret"))
	require.Equal(t, "PLAIN", p.Mechanism())
}
