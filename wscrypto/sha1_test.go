package wscrypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// TestSHA1KnownVectors checks the two textbook FIPS 180-4 test vectors.
func TestSHA1KnownVectors(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "da39a3ee5e6b4b0d3255bfef95601890afd80709"},
		{"abc", []byte("abc"), "a9993e364706816aba3e25717850c26c9cd0d89d"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SHA1(tc.data)
			want := mustHex(tc.want)
			if !bytes.Equal(got[:], want) {
				t.Fatalf("SHA1(%s) = %x, want %s", tc.name, got, tc.want)
			}
		})
	}
}

// TestSHA1BlockBoundaries exercises the 55/56/64-byte padding transitions
// by checking that writing the same message in one shot or in arbitrary
// chunks always produces the same digest -- the incremental path is
// what has to get the padding math right.
func TestSHA1BlockBoundaries(t *testing.T) {
	lengths := []int{0, 1, 55, 56, 57, 63, 64, 65, 127, 128, 129, 1000}
	for _, n := range lengths {
		msg := bytes.Repeat([]byte{'x'}, n)

		oneShot := SHA1(msg)

		var s sha1State
		s.reset()
		for i := 0; i < len(msg); i += 7 {
			end := i + 7
			if end > len(msg) {
				end = len(msg)
			}
			s.write(msg[i:end])
		}
		chunked := s.sum()

		if oneShot != chunked {
			t.Fatalf("len=%d: one-shot %x != chunked %x", n, oneShot, chunked)
		}
	}
}

// TestSHA1Avalanche checks that a single flipped bit produces a
// substantially different digest, guarding against a degenerate
// (e.g. all-zero) implementation.
func TestSHA1Avalanche(t *testing.T) {
	a := SHA1([]byte("The quick brown fox jumps over the lazy dog"))
	b := SHA1([]byte("The quick brown fox jumps over the lazy dof"))
	if a == b {
		t.Fatal("expected different digests for different inputs")
	}
	diff := 0
	for i := range a {
		if a[i] != b[i] {
			diff++
		}
	}
	if diff < 4 {
		t.Fatalf("digests differ in only %d bytes, expected avalanche effect", diff)
	}
}
