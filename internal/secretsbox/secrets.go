// Package secretsbox seals a node's identity secrets (its mnemonic and
// BIP39 passphrase) at rest, so the node does not need the mnemonic
// re-entered on every restart. Layout is MAGIC|salt|nonce|length|
// ciphertext, keyed by an Argon2id KDF over the caller's passphrase.
package secretsbox

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"cloudp2p/internal/errs"
)

var magic = []byte("CP2P1")

const saltSize = 16

// IdentitySecrets is the payload sealed on disk.
type IdentitySecrets struct {
	Mnemonic   string `json:"mnemonic"`
	Passphrase string `json:"passphrase"`
}

func kdf(pass, salt []byte) []byte {
	return argon2.IDKey(pass, salt, 2, 64*1024, 1, 32)
}

// Seal encrypts sec under a key derived from passphrase via Argon2id
// and writes MAGIC ‖ salt(16) ‖ nonce(24) ‖ length(4, BE) ‖ ciphertext
// to path with 0600 permissions.
func Seal(path string, passphrase []byte, sec IdentitySecrets) error {
	plaintext, err := json.Marshal(sec)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "marshal identity secrets", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return errs.Wrap(errs.CodeInternal, "read salt", err)
	}
	key := kdf(passphrase, salt)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "new xchacha20poly1305", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return errs.Wrap(errs.CodeInternal, "read nonce", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ciphertext)))

	out := make([]byte, 0, len(magic)+saltSize+len(nonce)+4+len(ciphertext))
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, lenBuf[:]...)
	out = append(out, ciphertext...)

	if err := os.WriteFile(path, out, 0o600); err != nil {
		return errs.Wrap(errs.CodeInternal, "write sealed secrets", err)
	}
	return nil
}

// Open reverses Seal, validating the magic header and declared length
// before decrypting.
func Open(path string, passphrase []byte) (IdentitySecrets, error) {
	var out IdentitySecrets

	raw, err := os.ReadFile(path)
	if err != nil {
		return out, errs.Wrap(errs.CodeInternal, "read sealed secrets", err)
	}

	minLen := len(magic) + saltSize + chacha20poly1305.NonceSizeX + 4
	if len(raw) < minLen {
		return out, errs.New(errs.CodeInvalidRequest, "sealed secrets file too short")
	}
	pos := 0
	if string(raw[pos:pos+len(magic)]) != string(magic) {
		return out, errs.New(errs.CodeInvalidRequest, "sealed secrets: bad magic header")
	}
	pos += len(magic)

	salt := raw[pos : pos+saltSize]
	pos += saltSize

	nonce := raw[pos : pos+chacha20poly1305.NonceSizeX]
	pos += chacha20poly1305.NonceSizeX

	declaredLen := binary.BigEndian.Uint32(raw[pos : pos+4])
	pos += 4

	ciphertext := raw[pos:]
	if uint32(len(ciphertext)) != declaredLen {
		return out, errs.New(errs.CodeInvalidRequest, "sealed secrets: length mismatch")
	}

	key := kdf(passphrase, salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return out, errs.Wrap(errs.CodeInternal, "new xchacha20poly1305", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return out, errs.Wrap(errs.CodeInvalidRequest, "decrypt sealed secrets: wrong passphrase or corrupted file", err)
	}

	if err := json.Unmarshal(plaintext, &out); err != nil {
		return out, errs.Wrap(errs.CodeInternal, "unmarshal identity secrets", err)
	}
	return out, nil
}
