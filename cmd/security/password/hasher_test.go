package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// testConfig keeps argon2id cheap enough for unit tests.
func testConfig(alg Algorithm) Config {
	cfg := DefaultConfig()
	cfg.Default = alg
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	cfg.BcryptCost = 4
	return cfg
}

func newHasher(t *testing.T, alg Algorithm) *Hasher {
	t.Helper()
	h, err := New(testConfig(alg))
	require.NoError(t, err)
	return h
}

func TestHashVerify_Argon2id(t *testing.T) {
	h := newHasher(t, Argon2id)

	encoded, err := h.Hash("correct horse battery")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$"))

	require.True(t, h.Verify("correct horse battery", encoded))
	require.False(t, h.Verify("correct horse batterx", encoded))
}

func TestHash_SaltsDiffer(t *testing.T) {
	h := newHasher(t, Argon2id)

	a, err := h.Hash("same password here")
	require.NoError(t, err)
	b, err := h.Hash("same password here")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestHashVerify_Bcrypt(t *testing.T) {
	h := newHasher(t, Bcrypt)

	encoded, err := h.Hash("correct horse battery")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, "$2a$04$"))

	require.True(t, h.Verify("correct horse battery", encoded))
	require.False(t, h.Verify("wrong", encoded))
}

func TestHash_RejectsEmpty(t *testing.T) {
	h := newHasher(t, Argon2id)

	_, err := h.Hash("")
	require.ErrorIs(t, err, ErrEmptyPassword)
}

func TestVerify_AcrossDefaultSwitch(t *testing.T) {
	argonHasher := newHasher(t, Argon2id)
	bcryptHasher := newHasher(t, Bcrypt)

	fromArgon, err := argonHasher.Hash("switching defaults")
	require.NoError(t, err)
	fromBcrypt, err := bcryptHasher.Hash("switching defaults")
	require.NoError(t, err)

	require.True(t, bcryptHasher.Verify("switching defaults", fromArgon))
	require.True(t, argonHasher.Verify("switching defaults", fromBcrypt))
}

func TestBcrypt_LongInputTruncated(t *testing.T) {
	h := newHasher(t, Bcrypt)

	long := strings.Repeat("x", 100)
	encoded, err := h.Hash(long)
	require.NoError(t, err)

	require.True(t, h.Verify(long, encoded))
	// Bytes past 72 are ignored by bcrypt.
	require.True(t, h.Verify(strings.Repeat("x", 72)+"different tail", encoded))
	require.False(t, h.Verify(strings.Repeat("x", 71), encoded))
}

func TestHash_OverMaxLengthIsDeterministic(t *testing.T) {
	h := newHasher(t, Argon2id)

	long := strings.Repeat("ab", 300)
	encoded, err := h.Hash(long)
	require.NoError(t, err)
	require.True(t, h.Verify(long, encoded))
}

func TestVerify_MalformedHashes(t *testing.T) {
	h := newHasher(t, Argon2id)

	for _, stored := range []string{
		"",
		"!",
		"plaintext",
		"$argon2id$v=19$m=8192,t=1,p=1$bad",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=99999999,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2g",
		"$2a$04$short",
		"$scrypt$whatever",
	} {
		require.False(t, h.Verify("anything at all", stored), stored)
	}
}

func TestIdentify(t *testing.T) {
	h := newHasher(t, Argon2id)

	a, err := h.Hash("identify me please")
	require.NoError(t, err)
	alg, err := h.Identify(a)
	require.NoError(t, err)
	require.Equal(t, Argon2id, alg)

	alg, err = h.Identify("$2b$10$abcdefghijklmnopqrstuu")
	require.NoError(t, err)
	require.Equal(t, Bcrypt, alg)

	_, err = h.Identify("$md5$x")
	require.ErrorIs(t, err, ErrInvalidHash)
}

func TestNeedsRehash(t *testing.T) {
	argonHasher := newHasher(t, Argon2id)
	bcryptHasher := newHasher(t, Bcrypt)

	fromArgon, err := argonHasher.Hash("rehash candidate")
	require.NoError(t, err)
	require.False(t, argonHasher.NeedsRehash(fromArgon))
	require.True(t, bcryptHasher.NeedsRehash(fromArgon))

	stronger := testConfig(Argon2id)
	stronger.Params.Iterations = 2
	h2, err := New(stronger)
	require.NoError(t, err)
	require.True(t, h2.NeedsRehash(fromArgon))
}

func TestNew_UnknownAlgorithm(t *testing.T) {
	_, err := New(Config{Default: "md5"})
	require.ErrorIs(t, err, ErrUnknownAlgorithm)
}
