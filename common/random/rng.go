package random

import (
	"crypto/rand"
	"io"

	"github.com/sagernet/sing-socket/common/buf"
	E "github.com/sagernet/sing-socket/common/exceptions"

	"lukechampine.com/blake3"
)

var System = rand.Reader

// Blake3KeyedHash returns an unbounded pseudorandom stream keyed from System.
func Blake3KeyedHash() (io.Reader, error) {
	key := make([]byte, 32)
	_, err := io.ReadFull(System, key)
	if err != nil {
		return nil, E.Cause(err, "read key")
	}
	return blake3.New(32, key).XOF(), nil
}

// Buffer returns a buffer holding size bytes read from source.
func Buffer(source io.Reader, size int) (*buf.Buffer, error) {
	buffer := buf.NewSize(size)
	_, err := io.ReadFull(source, buffer.Extend(size))
	if err != nil {
		buffer.Release()
		return nil, err
	}
	return buffer, nil
}
