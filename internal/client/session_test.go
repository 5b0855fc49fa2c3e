package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestTokenStore(t *testing.T) {
	keyring.MockInit()
	var ts TokenStore

	_, err := ts.Load("http://localhost:4000")
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	require.NoError(t, ts.Save("http://localhost:4000", "tok"))
	token, err := ts.Load("http://localhost:4000")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	_, err = ts.Load("http://other:4000")
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	require.NoError(t, ts.Delete("http://localhost:4000"))
	require.NoError(t, ts.Delete("http://localhost:4000"))
	_, err = ts.Load("http://localhost:4000")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestProfile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profile.json")

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, &Profile{}, p)

	p.Server = "http://localhost:4000"
	p.Email = "alice@example.com"
	require.NoError(t, p.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, p, loaded)
}

func TestLoadProfile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := LoadProfile(path)
	assert.Error(t, err)
}
