// Package tokens verifies stream tokens against the configured user
// store. Membership checks are lock-free; the set is replaced wholesale
// when a lookup misses, so freshly added users work without a restart.
package tokens

import (
	"errors"
	"sync/atomic"

	"github.com/kism/acerestreamer/internal/config"
)

// ErrUnauthorized is returned when a token is not in the store.
var ErrUnauthorized = errors.New("invalid stream token")

// Store supplies the current set of users; the config layer implements it.
type Store func() []config.UserConfig

// Verifier holds the valid token set. Reads take an atomic pointer load;
// misses repopulate from the store and retry once.
type Verifier struct {
	store Store
	set   atomic.Pointer[map[string]string]
}

// New builds a Verifier over the user store.
func New(store Store) *Verifier {
	v := &Verifier{store: store}
	v.Refresh()
	return v
}

// Refresh rebuilds the token set from the store.
func (v *Verifier) Refresh() {
	users := v.store()
	set := make(map[string]string, len(users))
	for _, u := range users {
		if u.StreamToken != "" {
			set[u.StreamToken] = u.Username
		}
	}
	v.set.Store(&set)
}

// Verify checks a token, repopulating on miss. Returns the owning
// username or ErrUnauthorized.
func (v *Verifier) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	if user, ok := (*v.set.Load())[token]; ok {
		return user, nil
	}
	v.Refresh()
	if user, ok := (*v.set.Load())[token]; ok {
		return user, nil
	}
	return "", ErrUnauthorized
}

// VerifyUser checks an XC credential pair: the password must be the
// user's stream token.
func (v *Verifier) VerifyUser(username, password string) error {
	user, err := v.Verify(password)
	if err != nil {
		return err
	}
	if user != username {
		return ErrUnauthorized
	}
	return nil
}
