package grant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned by an Authenticator when the username or password is wrong.
var ErrBadCredentials = errors.New("invalid username or password")

// Authenticator validates resource-owner credentials and returns the user ID to put in tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// StaticAuthenticator checks credentials against a fixed user table. Passwords are kept only
// as bcrypt hashes and the user ID is the username.
type StaticAuthenticator struct {
	users map[string][]byte
	// compared against when the user is unknown, so lookups take the same time either way
	dummyHash []byte
}

func NewStaticAuthenticator(users map[string]string) (*StaticAuthenticator, error) {
	return newStaticAuthenticator(users, bcrypt.DefaultCost)
}

func newStaticAuthenticator(users map[string]string, cost int) (*StaticAuthenticator, error) {
	hashed := make(map[string][]byte, len(users))
	for username, password := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password for %s: %w", username, err)
		}
		hashed[username] = hash
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash dummy password: %w", err)
	}

	return &StaticAuthenticator{
		users:     hashed,
		dummyHash: dummy,
	}, nil
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, username, password string) (string, error) {
	hash, ok := a.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", ErrBadCredentials
	}
	return username, nil
}

// ParseUsers parses "user:password,user2:password2" into a map.
func ParseUsers(raw string) (map[string]string, error) {
	users := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		username, password, ok := strings.Cut(entry, ":")
		if !ok || username == "" || password == "" {
			return nil, fmt.Errorf("invalid user entry %q, expected username:password", entry)
		}
		users[username] = password
	}
	return users, nil
}
