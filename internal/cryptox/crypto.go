// Package cryptox implements the vault crypto engine: AES-256-GCM
// encryption of content blobs, SHA-256 integrity digests, and key-file
// lifecycle management.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/datasite/connector/internal/common"
	"github.com/datasite/connector/internal/filex"
	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	seedSize  = 32
	nonceSize = 12
)

// Engine encrypts and decrypts content blobs with a single symmetric key
// loaded at construction time. The engine never rotates keys automatically.
type Engine struct {
	key []byte
}

// DeriveKey stretches the key-file seed into a 256-bit AES key using
// argon2id. The same seed and salt always produce the same key.
func DeriveKey(seed []byte, salt []byte) []byte {
	return argon2.IDKey(seed, salt, 1, 64*1024, 4, 32)
}

// Hash returns the hex-encoded SHA-256 digest of plaintext. The digest is
// used only for integrity comparison, never for authorization.
func Hash(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return hex.EncodeToString(sum[:])
}

// NewEngine loads (or generates on first run) the key material at keyPath
// and returns an engine ready for use.
//
// The key file holds a 16-byte salt followed by a 32-byte random seed; the
// AES key is derived from both via argon2id and never stored on disk. On
// systems that support permission bits the file must not be readable by
// group or others, otherwise NewEngine fails with common.ErrConfiguration.
func NewEngine(keyPath string) (*Engine, error) {
	material, err := loadOrCreateKeyFile(keyPath)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(material)

	salt := material[:saltSize]
	seed := material[saltSize:]

	return &Engine{key: DeriveKey(seed, salt)}, nil
}

func loadOrCreateKeyFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return generateKeyFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: stat key file: %v", common.ErrConfiguration, err)
	}

	// Refuse keys readable by anyone but the owning principal.
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("%w: key file %s has mode %o, want 0600",
			common.ErrConfiguration, path, info.Mode().Perm())
	}

	material, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read key file: %v", common.ErrConfiguration, err)
	}
	if len(material) != saltSize+seedSize {
		return nil, fmt.Errorf("%w: key file %s has unexpected size %d",
			common.ErrConfiguration, path, len(material))
	}
	return material, nil
}

func generateKeyFile(path string) ([]byte, error) {
	if _, err := filex.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("%w: create key dir: %v", common.ErrConfiguration, err)
	}

	material := common.GenerateRandByteArray(saltSize + seedSize)
	if err := os.WriteFile(path, material, 0o600); err != nil {
		return nil, fmt.Errorf("%w: write key file: %v", common.ErrConfiguration, err)
	}
	return material, nil
}

// Encrypt seals plaintext with AES-GCM under a fresh random 12-byte nonce
// and returns nonce||ciphertext. Output differs between calls for the same
// plaintext because of the nonce.
func (e *Engine) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := e.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", common.ErrCrypto, err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. A malformed blob or an
// authentication-tag mismatch is reported as common.ErrCrypto: it indicates
// tampering, not a generic I/O failure.
func (e *Engine) Decrypt(blob []byte) ([]byte, error) {
	aead, err := e.aead()
	if err != nil {
		return nil, err
	}

	if len(blob) < nonceSize {
		return nil, fmt.Errorf("%w: blob too short", common.ErrCrypto)
	}

	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt: %v", common.ErrCrypto, err)
	}
	return plaintext, nil
}

func (e *Engine) aead() (cipher.AEAD, error) {
	if len(e.key) == 0 {
		return nil, fmt.Errorf("%w: missing key", common.ErrCrypto)
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}
	return aead, nil
}
