package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidDigest indicates a digest that is not a well formed argon2id
// encoding. Callers treat it exactly like a mismatch so the response never
// reveals whether the stored digest was malformed or the password was wrong.
var ErrInvalidDigest = errors.New("password: invalid digest format")

// Params tunes the argon2id cost. The zero value is not usable; use
// DefaultParams unless a deployment has measured reasons to deviate.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follows the OWASP argon2id guidance.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher derives and verifies one-way password digests.
type Hasher struct {
	params Params
}

// NewHasher constructs a Hasher with the given params.
func NewHasher(params Params) *Hasher {
	if params.SaltLength == 0 || params.KeyLength == 0 {
		params = DefaultParams()
	}
	return &Hasher{params: params}
}

// Hash derives a salted argon2id digest from plaintext. The input is NFKC
// normalized first so visually identical passwords typed on different
// keyboards verify against the same digest.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: generate salt: %w", err)
	}

	key := argon2.IDKey(
		normalize(plaintext),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify reports whether plaintext matches digest using a constant-time
// comparison. A malformed digest returns ErrInvalidDigest.
func (h *Hasher) Verify(plaintext, digest string) (bool, error) {
	params, salt, key, err := decode(digest)
	if err != nil {
		return false, err
	}

	other := argon2.IDKey(
		normalize(plaintext),
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		params.KeyLength,
	)

	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

func normalize(plaintext string) []byte {
	return []byte(norm.NFKC.String(plaintext))
}

func decode(digest string) (Params, []byte, []byte, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrInvalidDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, ErrInvalidDigest
	}
	if version != argon2.Version {
		return Params{}, nil, nil, ErrInvalidDigest
	}

	var params Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return Params{}, nil, nil, ErrInvalidDigest
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidDigest
	}
	params.SaltLength = uint32(len(salt))

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidDigest
	}
	params.KeyLength = uint32(len(key))

	return params, salt, key, nil
}
