package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintSensitivity(t *testing.T) {
	t.Parallel()

	h := New()
	base := h.Fingerprint("title", "2025-01-02", "body text")

	require.NotEqual(t, base, h.Fingerprint("other", "2025-01-02", "body text"))
	require.NotEqual(t, base, h.Fingerprint("title", "2025-01-03", "body text"))
	require.NotEqual(t, base, h.Fingerprint("title", "2025-01-02", "changed body"))
	require.Equal(t, base, h.Fingerprint("title", "2025-01-02", "body text"))
}

func TestFingerprintIgnoresBodyBeyondPrefix(t *testing.T) {
	t.Parallel()

	h := New()
	prefix := strings.Repeat("a", bodyPrefixChars)

	same := h.Fingerprint("t", "d", prefix+"tail one")
	require.Equal(t, same, h.Fingerprint("t", "d", prefix+"completely different tail"))

	// A change inside the prefix must change the digest.
	mutated := "b" + prefix[1:]
	require.NotEqual(t, same, h.Fingerprint("t", "d", mutated+"tail one"))
}

func TestFingerprintFieldSeparation(t *testing.T) {
	t.Parallel()

	// Field boundaries must not be ambiguous under concatenation.
	h := New()
	require.NotEqual(t, h.Fingerprint("ab", "c", ""), h.Fingerprint("a", "bc", ""))
}
