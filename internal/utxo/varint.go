package utxo

import (
	"errors"
	"io"
)

// maxVarIntSize is the longest encoding of a uint64.
const maxVarIntSize = 10

var errVarIntOverflow = errors.New("varint overflows uint64")

// AppendVarInt appends the chainstate VARINT encoding of n: big-endian
// base-128 digits with the high bit set on every byte but the last, where
// each continuation digit is stored minus one so that encodings are unique.
func AppendVarInt(dst []byte, n uint64) []byte {
	var tmp [maxVarIntSize]byte
	l := 0
	for {
		tmp[l] = byte(n & 0x7f)
		if l > 0 {
			tmp[l] |= 0x80
		}
		if n <= 0x7f {
			break
		}
		n = (n >> 7) - 1
		l++
	}
	for i := l; i >= 0; i-- {
		dst = append(dst, tmp[i])
	}
	return dst
}

// ReadVarInt decodes one VARINT written by AppendVarInt.
func ReadVarInt(r io.ByteReader) (uint64, error) {
	var n uint64
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if n > (^uint64(0) >> 7) {
			return 0, errVarIntOverflow
		}
		n = (n << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return n, nil
		}
		if n == ^uint64(0) {
			return 0, errVarIntOverflow
		}
		n++
	}
}
