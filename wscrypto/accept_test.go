package wscrypto

import "testing"

// TestHandshakeVector checks the literal example vector from RFC 6455
// §1.3.
func TestHandshakeVector(t *testing.T) {
	const clientKey = "dGhlIHNhbXBsZSBub25jZQ=="
	const want = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="

	got := AcceptKey(clientKey)
	if got != want {
		t.Fatalf("AcceptKey(%q) = %q, want %q", clientKey, got, want)
	}
}
