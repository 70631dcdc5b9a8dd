package fingerprint_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casetrust/anchor/pkg/fingerprint"
)

func TestDigestKnownVector(t *testing.T) {
	// sha256("") and sha256("abc") are standard test vectors.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		fingerprint.Digest(nil))
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		fingerprint.Digest([]byte("abc")))
}

func TestDigestSingleByteMutation(t *testing.T) {
	original := []byte("evidence payload under case-42")
	base := fingerprint.Digest(original)

	for i := range original {
		mutated := append([]byte(nil), original...)
		mutated[i] ^= 0x01
		require.NotEqual(t, base, fingerprint.Digest(mutated),
			"flipping byte %d must change the digest", i)
	}
}

func TestDigestDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("identical bytes yield identical digests", prop.ForAll(
		func(data []byte) bool {
			return fingerprint.Digest(data) == fingerprint.Digest(append([]byte(nil), data...))
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("digest is valid lowercase hex of fixed length", prop.ForAll(
		func(data []byte) bool {
			return fingerprint.Valid(fingerprint.Digest(data))
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestValid(t *testing.T) {
	good := hex.EncodeToString(make([]byte, sha256.Size))
	assert.True(t, fingerprint.Valid(good))
	assert.False(t, fingerprint.Valid(""))
	assert.False(t, fingerprint.Valid(good[:63]))
	assert.False(t, fingerprint.Valid(good[:63]+"g"))
	// Uppercase digests are rejected; clients must send what the server emits.
	assert.False(t, fingerprint.Valid("E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855"))
}

func TestMatchesCaseInsensitive(t *testing.T) {
	d := fingerprint.Digest([]byte("abc"))
	assert.True(t, fingerprint.Matches(d, d))
	assert.True(t, fingerprint.Matches("BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD", d))
	assert.False(t, fingerprint.Matches(fingerprint.Digest([]byte("abd")), d))
}

func TestCanonicalDigestKeyOrderIndependent(t *testing.T) {
	a, err := fingerprint.CanonicalDigest([]byte(`{"filename":"x.jpg","size":10}`))
	require.NoError(t, err)
	b, err := fingerprint.CanonicalDigest([]byte(`{"size":10,"filename":"x.jpg"}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = fingerprint.CanonicalDigest([]byte(`{not json`))
	assert.Error(t, err)
}
