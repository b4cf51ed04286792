package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kism/acerestreamer/internal/config"
)

func TestVerifyKnownToken(t *testing.T) {
	v := New(func() []config.UserConfig {
		return []config.UserConfig{{Username: "alice", StreamToken: "tok-a"}}
	})

	user, err := v.Verify("tok-a")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestVerifyUnknownToken(t *testing.T) {
	v := New(func() []config.UserConfig { return nil })

	_, err := v.Verify("nope")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRepopulatesOnMiss(t *testing.T) {
	users := []config.UserConfig{}
	v := New(func() []config.UserConfig { return users })

	_, err := v.Verify("tok-b")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// The store gains a user; the next verify picks it up without an
	// explicit refresh.
	users = []config.UserConfig{{Username: "bob", StreamToken: "tok-b"}}
	user, err := v.Verify("tok-b")
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
}

func TestVerifyUser(t *testing.T) {
	v := New(func() []config.UserConfig {
		return []config.UserConfig{{Username: "carol", StreamToken: "tok-c"}}
	})

	assert.NoError(t, v.VerifyUser("carol", "tok-c"))
	assert.ErrorIs(t, v.VerifyUser("carol", "wrong"), ErrUnauthorized)
	assert.ErrorIs(t, v.VerifyUser("mallory", "tok-c"), ErrUnauthorized)
}
