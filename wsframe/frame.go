package wsframe

import "encoding/binary"

// Header is a parsed RFC 6455 frame header. It carries no payload bytes;
// the caller locates the payload at view[HeaderLen : HeaderLen+PayloadLen]
// in whatever buffer the header was parsed from.
type Header struct {
	Fin        bool
	Opcode     Opcode
	Masked     bool
	PayloadLen uint64
	MaskKey    [4]byte
	HeaderLen  int
}

// ParseHeader reads a frame header from view without consuming or copying
// the payload. It returns a zero Header and headerLen == 0 when view is
// shorter than the 2, 4, or 10 base bytes the length encoding calls for,
// or shorter than that plus the 4-byte mask key when the frame is masked.
func ParseHeader(view []byte) (hdr Header, headerLen int) {
	if len(view) < 2 {
		return Header{}, 0
	}

	b0, b1 := view[0], view[1]
	hdr.Fin = b0&finBit != 0
	hdr.Opcode = Opcode(b0 & opMask)
	hdr.Masked = b1&maskBit != 0

	n := uint64(b1 & lenMask)
	offset := 2

	switch n {
	case 126:
		if len(view) < 4 {
			return Header{}, 0
		}
		n = uint64(binary.BigEndian.Uint16(view[2:4]))
		offset = 4
	case 127:
		if len(view) < 10 {
			return Header{}, 0
		}
		n = binary.BigEndian.Uint64(view[2:10])
		offset = 10
	}
	hdr.PayloadLen = n

	if hdr.Masked {
		if len(view) < offset+4 {
			return Header{}, 0
		}
		copy(hdr.MaskKey[:], view[offset:offset+4])
		offset += 4
	}

	hdr.HeaderLen = offset
	return hdr, offset
}

// EncodeHeader writes an outgoing frame header into dst, which must be at
// least 14 bytes (2 base + 8 extended length + 4 mask key). The server
// never masks outgoing frames and never fragments (FIN is always 1); mask
// is accepted for symmetry with ParseHeader and to let tests exercise the
// masked encoding path, but production call sites always pass false.
func EncodeHeader(dst []byte, op Opcode, payloadLen uint64, mask bool, maskKey [4]byte) int {
	dst[0] = finBit | byte(op)

	var maskFlag byte
	if mask {
		maskFlag = maskBit
	}

	offset := 1
	switch {
	case payloadLen <= 125:
		dst[offset] = byte(payloadLen) | maskFlag
		offset++
	case payloadLen <= 0xFFFF:
		dst[offset] = 126 | maskFlag
		offset++
		binary.BigEndian.PutUint16(dst[offset:], uint16(payloadLen))
		offset += 2
	default:
		dst[offset] = 127 | maskFlag
		offset++
		binary.BigEndian.PutUint64(dst[offset:], payloadLen)
		offset += 8
	}

	if mask {
		copy(dst[offset:offset+4], maskKey[:])
		offset += 4
	}

	return offset
}

// Unmask XORs payload in place against the 4-byte key, cycling through the
// key modulo 4 as RFC 6455 requires.
func Unmask(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}
