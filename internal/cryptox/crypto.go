// Package cryptox implements the vault cryptor: AES-GCM for file contents,
// deterministic AES-GCM for file names, and a password-wrapped vault key
// derived with argon2id.
package cryptox

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize   = 32
	SaltSize  = 16
	nonceSize = 12
	tagSize   = 16
	// Overhead is the number of bytes encryption adds to a file.
	Overhead = nonceSize + tagSize

	keyFileVersion = 1
)

var (
	ErrWrongPassword = errors.New("wrong vault password")
	ErrCorrupted     = errors.New("ciphertext is corrupted")
)

func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

func DeriveMasterKey(password []byte, salt []byte) []byte {
	x := argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
	return x
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// KeyFile is the JSON document stored next to the vault root. It holds
// the random vault key sealed with a key derived from the password.
type KeyFile struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Verifier   []byte `json:"verifier"`
	WrappedKey []byte `json:"wrapped_key"`
}

// NewKeyFile generates a fresh vault key and wraps it with password.
func NewKeyFile(password []byte) (*KeyFile, []byte, error) {
	vaultKey := common.GenerateRandByteArray(KeySize)
	kf, err := wrap(password, vaultKey)
	if err != nil {
		return nil, nil, err
	}
	return kf, vaultKey, nil
}

func wrap(password, vaultKey []byte) (*KeyFile, error) {
	salt := common.GenerateRandByteArray(SaltSize)
	master := DeriveMasterKey(password, salt)
	defer common.WipeByteArray(master)

	aead, err := newGCM(master)
	if err != nil {
		return nil, err
	}
	nonce := common.GenerateRandByteArray(nonceSize)
	return &KeyFile{
		Version:    keyFileVersion,
		Salt:       salt,
		Verifier:   MakeVerifier(master),
		WrappedKey: aead.Seal(nonce, nonce, vaultKey, nil),
	}, nil
}

// Unlock recovers the vault key.
func (k *KeyFile) Unlock(password []byte) ([]byte, error) {
	if k.Version != keyFileVersion {
		return nil, fmt.Errorf("unsupported key file version %d", k.Version)
	}
	master := DeriveMasterKey(password, k.Salt)
	defer common.WipeByteArray(master)

	if subtle.ConstantTimeCompare(MakeVerifier(master), k.Verifier) != 1 {
		return nil, ErrWrongPassword
	}
	aead, err := newGCM(master)
	if err != nil {
		return nil, err
	}
	if len(k.WrappedKey) < nonceSize {
		return nil, ErrCorrupted
	}
	key, err := aead.Open(nil, k.WrappedKey[:nonceSize], k.WrappedKey[nonceSize:], nil)
	if err != nil {
		return nil, ErrCorrupted
	}
	return key, nil
}

// Rewrap seals the same vault key under a new password.
func (k *KeyFile) Rewrap(oldPassword, newPassword []byte) (*KeyFile, error) {
	key, err := k.Unlock(oldPassword)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)
	return wrap(newPassword, key)
}

func (k *KeyFile) Marshal() ([]byte, error) {
	return json.MarshalIndent(k, "", "  ")
}

func ParseKeyFile(b []byte) (*KeyFile, error) {
	var k KeyFile
	if err := json.Unmarshal(b, &k); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	return &k, nil
}

// Cryptor transforms file contents and names with subkeys of the vault key.
type Cryptor struct {
	content cipher.AEAD
	names   cipher.AEAD
	nameMac []byte
}

func subkey(vaultKey []byte, info string) ([]byte, error) {
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, vaultKey, nil, []byte(info)), out); err != nil {
		return nil, err
	}
	return out, nil
}

func NewCryptor(vaultKey []byte) (*Cryptor, error) {
	if len(vaultKey) != KeySize {
		return nil, fmt.Errorf("vault key must be %d bytes", KeySize)
	}
	ck, err := subkey(vaultKey, "gophvault content")
	if err != nil {
		return nil, err
	}
	nk, err := subkey(vaultKey, "gophvault names")
	if err != nil {
		return nil, err
	}
	mk, err := subkey(vaultKey, "gophvault name nonce")
	if err != nil {
		return nil, err
	}
	content, err := newGCM(ck)
	if err != nil {
		return nil, err
	}
	names, err := newGCM(nk)
	if err != nil {
		return nil, err
	}
	return &Cryptor{content: content, names: names, nameMac: mk}, nil
}

// EncryptFile writes nonce || AES-GCM(src) to dst.
func (c *Cryptor) EncryptFile(ctx context.Context, src, dst string) error {
	plaintext, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	defer common.WipeByteArray(plaintext)

	nonce := common.GenerateRandByteArray(nonceSize)
	sealed := c.content.Seal(nonce, nonce, plaintext, nil)
	return filex.WriteAtomically(ctx, bytes.NewReader(sealed), dst)
}

func (c *Cryptor) DecryptFile(ctx context.Context, src, dst string) error {
	sealed, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if len(sealed) < Overhead {
		return ErrCorrupted
	}
	plaintext, err := c.content.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return ErrCorrupted
	}
	defer common.WipeByteArray(plaintext)
	return filex.WriteAtomically(ctx, bytes.NewReader(plaintext), dst)
}

// EncryptName is deterministic so that the same name always maps to the
// same remote name and remote lookups by path keep working.
func (c *Cryptor) EncryptName(name string) string {
	mac := hmac.New(sha256.New, c.nameMac)
	mac.Write([]byte(name))
	nonce := mac.Sum(nil)[:nonceSize]
	return base64.RawURLEncoding.EncodeToString(c.names.Seal(nonce, nonce, []byte(name), nil))
}

func (c *Cryptor) DecryptName(enc string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil || len(raw) < Overhead {
		return "", ErrCorrupted
	}
	plain, err := c.names.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrCorrupted
	}
	return string(plain), nil
}

// EncryptPath encrypts every component of a cleartext vault path.
func (c *Cryptor) EncryptPath(p string) string {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return clean
	}
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	for i, part := range parts {
		parts[i] = c.EncryptName(part)
	}
	return "/" + strings.Join(parts, "/")
}

func (c *Cryptor) DecryptPath(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return clean, nil
	}
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	for i, part := range parts {
		name, err := c.DecryptName(part)
		if err != nil {
			return "", err
		}
		parts[i] = name
	}
	return "/" + strings.Join(parts, "/"), nil
}

// CleartextSize converts a remote (encrypted) size to the size of the
// decrypted file.
func (c *Cryptor) CleartextSize(n int64) int64 {
	if n < Overhead {
		return 0
	}
	return n - Overhead
}
