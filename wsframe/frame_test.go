package wsframe

import "testing"

// TestHeaderRoundTrip checks that, for any opcode in the control/data
// set and any payload length spanning the encoding's length classes,
// parsing an encoded header recovers the same opcode and length.
func TestHeaderRoundTrip(t *testing.T) {
	opcodes := []Opcode{OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong}
	lengths := []uint64{0, 1, 125, 126, 65535, 65536, 1000000}

	for _, op := range opcodes {
		for _, l := range lengths {
			var buf [14]byte
			n := EncodeHeader(buf[:], op, l, false, [4]byte{})

			hdr, headerLen := ParseHeader(buf[:n])
			if headerLen == 0 {
				t.Fatalf("op=%v len=%d: ParseHeader reported incomplete on a full header", op, l)
			}
			if headerLen != n {
				t.Fatalf("op=%v len=%d: headerLen=%d, encoded %d bytes", op, l, headerLen, n)
			}
			if hdr.Opcode != op {
				t.Fatalf("op=%v len=%d: parsed opcode %v", op, l, hdr.Opcode)
			}
			if hdr.PayloadLen != l {
				t.Fatalf("op=%v len=%d: parsed length %d", op, l, hdr.PayloadLen)
			}
			if !hdr.Fin {
				t.Fatalf("op=%v len=%d: FIN should always be set on server-encoded headers", op, l)
			}
			if hdr.Masked {
				t.Fatalf("op=%v len=%d: server-encoded header must not be masked", op, l)
			}
		}
	}
}

// TestHeaderRoundTripMasked exercises the masked encoding path, used only
// by tests to simulate client frames.
func TestHeaderRoundTripMasked(t *testing.T) {
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	var buf [14]byte
	n := EncodeHeader(buf[:], OpcodeText, 5, true, key)

	hdr, headerLen := ParseHeader(buf[:n])
	if headerLen != n {
		t.Fatalf("headerLen=%d, want %d", headerLen, n)
	}
	if !hdr.Masked {
		t.Fatal("expected Masked=true")
	}
	if hdr.MaskKey != key {
		t.Fatalf("MaskKey=%v, want %v", hdr.MaskKey, key)
	}
}

// TestParseHeaderInsufficientData checks the incomplete-header contract
// at each of the header's length-encoding size thresholds.
func TestParseHeaderInsufficientData(t *testing.T) {
	full := make([]byte, 14)
	EncodeHeader(full, OpcodeBinary, 70000, true, [4]byte{1, 2, 3, 4})
	// EncodeHeader with mask=true sets the mask bit, so full now holds a
	// masked header with a 64-bit extended length (2 + 8 + 4 = 14 bytes).

	for n := 0; n < len(full); n++ {
		_, headerLen := ParseHeader(full[:n])
		if headerLen != 0 {
			t.Fatalf("n=%d: expected incomplete (0), got headerLen=%d", n, headerLen)
		}
	}

	_, headerLen := ParseHeader(full)
	if headerLen != 14 {
		t.Fatalf("full buffer: headerLen=%d, want 14", headerLen)
	}
}

// TestParseHeaderTooShort checks the degenerate zero/one byte cases.
func TestParseHeaderTooShort(t *testing.T) {
	if _, n := ParseHeader(nil); n != 0 {
		t.Fatalf("nil view: headerLen=%d, want 0", n)
	}
	if _, n := ParseHeader([]byte{0x81}); n != 0 {
		t.Fatalf("1-byte view: headerLen=%d, want 0", n)
	}
}

// TestUnmask exercises a literal masked text-frame payload.
func TestUnmask(t *testing.T) {
	// "Hello" masked with key 12 34 56 78 -> 5A 51 3A 14 7D.
	payload := []byte{0x5A, 0x51, 0x3A, 0x14, 0x7D}
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	Unmask(payload, key)
	if string(payload) != "Hello" {
		t.Fatalf("Unmask produced %q, want %q", payload, "Hello")
	}
}

func TestOpcodeIsControl(t *testing.T) {
	for _, op := range []Opcode{OpcodeClose, OpcodePing, OpcodePong} {
		if !op.IsControl() {
			t.Fatalf("opcode %v should be a control opcode", op)
		}
	}
	for _, op := range []Opcode{OpcodeContinuation, OpcodeText, OpcodeBinary} {
		if op.IsControl() {
			t.Fatalf("opcode %v should not be a control opcode", op)
		}
	}
}
