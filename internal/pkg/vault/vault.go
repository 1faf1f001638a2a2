package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Smadaqk5/hotspotconfig/internal/pkg/env"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCredential wraps every decryption failure so payment code can treat
// corrupt or foreign ciphertext as a configuration problem instead of
// bubbling up a raw crypto error.
var ErrCredential = errors.New("credential ciphertext invalid")

// Vault encrypts tenant gateway secrets at rest. Keys are versioned so that
// rotation is "add key N+1, re-encrypt lazily": Encrypt always uses the
// active version, Decrypt accepts any known version. Read-only after
// construction, safe for concurrent use.
type Vault struct {
	keys   map[int][]byte
	active int
}

// New builds a vault from versioned 32-byte keys. The active version must be
// present in the key set.
func New(keys map[int][]byte, active int) (*Vault, error) {
	if len(keys) == 0 {
		return nil, errors.New("vault: no keys configured")
	}
	for version, key := range keys {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("vault: key v%d has %d bytes, want %d", version, len(key), chacha20poly1305.KeySize)
		}
	}
	if _, ok := keys[active]; !ok {
		return nil, fmt.Errorf("vault: active key version v%d not in key set", active)
	}
	return &Vault{keys: keys, active: active}, nil
}

// NewFromEnv loads VAULT_KEYS ("1:<base64>,2:<base64>") and VAULT_ACTIVE_KEY.
// A missing key set is a fatal configuration error; there is deliberately no
// generated fallback key.
func NewFromEnv() *Vault {
	raw := strings.TrimSpace(env.GetEnv("VAULT_KEYS", ""))
	if raw == "" {
		panic("VAULT_KEYS is not configured; refusing to start without an encryption key")
	}

	keys := make(map[int][]byte)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			panic(fmt.Sprintf("VAULT_KEYS entry %q is not in version:base64key form", entry))
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			panic(fmt.Sprintf("VAULT_KEYS entry %q has a non-numeric version", entry))
		}
		key, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			panic(fmt.Sprintf("VAULT_KEYS entry v%d is not valid base64", version))
		}
		keys[version] = key
	}

	active := env.GetEnvInt("VAULT_ACTIVE_KEY", 0)
	if active == 0 {
		// Default to the highest configured version.
		for version := range keys {
			if version > active {
				active = version
			}
		}
	}

	v, err := New(keys, active)
	if err != nil {
		panic(err.Error())
	}
	return v
}

// Encrypt seals plaintext with the active key. Output format is
// "v<version>.<base64(nonce||ciphertext)>".
func (v *Vault) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(v.keys[v.active])
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce generation failed: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("v%d.%s", v.active, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Decrypt opens ciphertext produced by any known key version. Every failure
// mode wraps ErrCredential.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	parts := strings.SplitN(ciphertext, ".", 2)
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "v") {
		return "", fmt.Errorf("%w: missing version prefix", ErrCredential)
	}
	version, err := strconv.Atoi(parts[0][1:])
	if err != nil {
		return "", fmt.Errorf("%w: bad version %q", ErrCredential, parts[0])
	}
	key, ok := v.keys[version]
	if !ok {
		return "", fmt.Errorf("%w: unknown key version v%d", ErrCredential, version)
	}

	sealed, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad base64", ErrCredential)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCredential)
	}

	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrCredential)
	}
	return string(plaintext), nil
}

// ActiveVersion returns the key version Encrypt currently uses.
func (v *Vault) ActiveVersion() int {
	return v.active
}
