package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	h := NewHasher(DefaultParams())

	digest, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(digest, "$argon2id$"))

	ok, err := h.Verify("correct horse battery staple", digest)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify("wrong password", digest)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	h := NewHasher(DefaultParams())

	first, err := h.Hash("secret1")
	require.NoError(t, err)
	second, err := h.Hash("secret1")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestVerifyNormalizesUnicode(t *testing.T) {
	h := NewHasher(DefaultParams())

	// U+212B (ANGSTROM SIGN) normalizes to U+00C5 under NFKC.
	digest, err := h.Hash("pÅss")
	require.NoError(t, err)

	ok, err := h.Verify("pÅss", digest)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyMalformedDigest(t *testing.T) {
	h := NewHasher(DefaultParams())

	cases := []string{
		"",
		"plainly-not-a-digest",
		"$argon2i$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=3,p=2$!!!$aGFzaA",
	}
	for _, digest := range cases {
		ok, err := h.Verify("whatever", digest)
		require.ErrorIs(t, err, ErrInvalidDigest, "digest %q", digest)
		require.False(t, ok)
	}
}
