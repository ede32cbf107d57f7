package secretsbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.enc")
	sec := IdentitySecrets{Mnemonic: "abandon abandon about", Passphrase: "extra"}

	require.NoError(t, Seal(path, []byte("correct horse battery staple"), sec))

	got, err := Open(path, []byte("correct horse battery staple"))
	require.NoError(t, err)
	assert.Equal(t, sec, got)
}

func TestOpenFailsWithWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.enc")
	sec := IdentitySecrets{Mnemonic: "abandon abandon about"}
	require.NoError(t, Seal(path, []byte("right"), sec))

	_, err := Open(path, []byte("wrong"))
	assert.Error(t, err)
}

func TestOpenFailsOnTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.enc")
	sec := IdentitySecrets{Mnemonic: "abandon abandon about"}
	require.NoError(t, Seal(path, []byte("right"), sec))

	_, err := Open(path, []byte("right"))
	require.NoError(t, err)

	badPath := filepath.Join(t.TempDir(), "bad.enc")
	require.NoError(t, writeShort(badPath))
	_, err = Open(badPath, []byte("right"))
	assert.Error(t, err)
}

func writeShort(path string) error {
	return os.WriteFile(path, []byte("too short"), 0o600)
}
