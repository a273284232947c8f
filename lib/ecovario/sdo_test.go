package ecovario

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		frame := make([]byte, r.Intn(24))
		r.Read(frame)
		var sum int
		for _, c := range frame {
			sum += int(c)
		}
		cs := Checksum(frame)
		assert.Zero(t, (sum+int(cs))&0xFF, "frame % x", frame)
	}
	assert.Equal(t, byte(0), Checksum(nil))
}

func TestFrames(t *testing.T) {
	assert.Equal(t,
		[]byte{0x01, 0x22, 0x7a, 0x60, 0x00, 0xe8, 0x03, 0x00, 0x00, 0x18},
		WriteFrame(0x01, ObjTargetPosition, 1000))
	assert.Equal(t,
		[]byte{0x01, 0x22, 0x40, 0x60, 0x00, 0x3f, 0x00, 0x00, 0x00, Checksum([]byte{0x01, 0x22, 0x40, 0x60, 0x00, 0x3f})},
		WriteFrame(0x01, ObjControlWord, CtrlStart))
	assert.Equal(t,
		[]byte{0x01, 0x40, 0x63, 0x60, 0x00, 0x00, 0x00, 0x00, 0x00, 0xfc},
		ReadFrame(0x01, ObjActualPosition))

	neg := WriteFrame(0x01, ObjTargetPosition, -2)
	assert.Equal(t, []byte{0xfe, 0xff, 0xff, 0xff}, neg[5:9])
	assert.NoError(t, verify(neg))
}

func TestInvertHex(t *testing.T) {
	assert.Equal(t, "0d0c0b0a", InvertHex("0a0b0c0d"))
	assert.Equal(t, "", InvertHex(""))

	r := rand.New(rand.NewSource(2))
	const digits = "0123456789abcdef"
	for i := 0; i < 200; i++ {
		b := make([]byte, 2*r.Intn(12))
		for j := range b {
			b[j] = digits[r.Intn(len(digits))]
		}
		s := string(b)
		assert.Equal(t, s, InvertHex(InvertHex(s)))
	}
}

func response(obj uint16, v uint32) []byte {
	req := ReadFrame(0x01, obj)
	f := []byte{0x01, 0x43, byte(obj), byte(obj >> 8), 0x00, byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return append(req, append(f, Checksum(f))...)
}

func TestPayload(t *testing.T) {
	p, err := Payload(response(ObjStatusWord, 0x12345678))
	require.NoError(t, err)
	assert.Equal(t, "12345678", p)

	v, err := Decode(p)
	require.NoError(t, err)
	assert.Equal(t, int32(0x12345678), v)

	p, err = Payload(response(ObjActualPosition, 0xfffffffe))
	require.NoError(t, err)
	v, err = Decode(p)
	require.NoError(t, err)
	assert.Equal(t, int32(-2), v)

	_, err = Payload(response(ObjStatusWord, 1)[:19])
	assert.ErrorContains(t, err, "19 bytes")

	bad := response(ObjStatusWord, 1)
	bad[15]++
	_, err = Payload(bad)
	assert.ErrorContains(t, err, "checksum")

	_, err = Decode("zz")
	assert.Error(t, err)
}
