package ecovario

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// SDO command bytes.
const (
	cmdWrite byte = 0x22
	cmdRead  byte = 0x40
)

const (
	// FrameLen is the length of a request frame including its checksum.
	FrameLen = 10
	// ResponseLen is what the controller sends back for every request:
	// the echoed request followed by its own frame.
	ResponseLen = 2 * FrameLen
)

// Checksum returns the byte that makes the modulo-256 sum of frame and
// checksum zero.
func Checksum(frame []byte) byte {
	var sum byte
	for _, c := range frame {
		sum += c
	}
	return ^sum + 1
}

func verify(frame []byte) error {
	var s byte
	for _, c := range frame {
		s += c
	}
	if s != 0 {
		return fmt.Errorf("bad checksum %02x", s)
	}
	return nil
}

// WriteFrame builds the request writing value to object on node. The value
// is sent as little-endian 32 bit integer.
func WriteFrame(node byte, object uint16, value int32) []byte {
	v := uint32(value)
	f := []byte{node, cmdWrite, byte(object), byte(object >> 8), 0x00,
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return append(f, Checksum(f))
}

// ReadFrame builds the request reading object on node.
func ReadFrame(node byte, object uint16) []byte {
	f := []byte{node, cmdRead, byte(object), byte(object >> 8), 0x00, 0, 0, 0, 0}
	return append(f, Checksum(f))
}

// InvertHex reverses the order of the two-digit groups of s.
func InvertHex(s string) string {
	b := make([]byte, 0, len(s))
	for i := len(s); i >= 2; i -= 2 {
		b = append(b, s[i-2:i]...)
	}
	return string(b)
}

// Payload extracts the data of a read response as a big-endian hex string:
// the echoed request, the 5 byte header and the checksum are dropped and the
// remaining bytes are put into big-endian order.
func Payload(resp []byte) (string, error) {
	if len(resp) != ResponseLen {
		return "", fmt.Errorf("response has %d bytes, want %d", len(resp), ResponseLen)
	}
	if err := verify(resp[FrameLen:]); err != nil {
		return "", err
	}
	h := hex.EncodeToString(resp)[2*FrameLen:]
	return InvertHex(h[10 : len(h)-2]), nil
}

// Decode parses a payload as a signed 32 bit value.
func Decode(payload string) (int32, error) {
	u, err := strconv.ParseUint(payload, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("payload %q: %w", payload, err)
	}
	return int32(uint32(u)), nil
}
