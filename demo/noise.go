package demo

import (
	"crypto/rand"
	"io"

	"github.com/Query-farm/native-bridge/bridge"
)

const defaultNoiseBytes = 64 << 10

// Noise streams args[0] random bytes (default 64 KiB) as a raw stream.
func Noise(_ *bridge.CallContext, args []bridge.Value) (io.ReadCloser, error) {
	n := float64(defaultNoiseBytes)
	if len(args) > 0 {
		v, ok := args[0].AsNumber()
		if !ok || v < 0 || v != float64(int64(v)) {
			return nil, ErrInvalidLength
		}
		n = v
	}
	return io.NopCloser(io.LimitReader(rand.Reader, int64(n))), nil
}
