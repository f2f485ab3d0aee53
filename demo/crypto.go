// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package demo

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"github.com/Query-farm/native-bridge/bridge"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

const (
	maxRandomBytes = 1 << 20
	maxDerivedKey  = 255 * sha256.Size
)

// Error codes returned by the crypto handlers.
var (
	ErrMissingArgument      = &bridge.APIError{Code: "missing argument"}
	ErrUnsupportedAlgorithm = &bridge.APIError{Code: "unsupported algorithm"}
	ErrInvalidLength        = &bridge.APIError{Code: "invalid length"}
)

func newHash(algorithm string) (hash.Hash, bool) {
	switch algorithm {
	case "sha256":
		return sha256.New(), true
	case "sha3-256":
		return sha3.New256(), true
	case "blake2b-256":
		h, err := blake2b.New256(nil)
		return h, err == nil
	}
	return nil, false
}

// Digest hashes args[1] with the algorithm named by args[0] and returns the
// hex digest followed by the raw digest bytes.
func Digest(_ *bridge.CallContext, args []bridge.Value) ([]bridge.Value, error) {
	if len(args) < 2 {
		return nil, ErrMissingArgument
	}
	algorithm, _ := args[0].AsString()
	h, ok := newHash(algorithm)
	if !ok {
		return nil, ErrUnsupportedAlgorithm
	}
	data, ok := args[1].AsBytes()
	if !ok {
		return nil, ErrMissingArgument
	}
	h.Write(data)
	sum := h.Sum(nil)
	return []bridge.Value{bridge.String(hex.EncodeToString(sum)), bridge.Bytes(sum)}, nil
}

// DeriveKey runs HKDF-SHA256 over (secret, salt, info) and returns length
// bytes of key material.
func DeriveKey(_ *bridge.CallContext, args []bridge.Value) ([]bridge.Value, error) {
	if len(args) < 4 {
		return nil, ErrMissingArgument
	}
	secret, _ := args[0].AsBytes()
	salt, _ := args[1].AsBytes()
	info, _ := args[2].AsBytes()
	n, ok := args[3].AsNumber()
	if !ok || n < 1 || n > maxDerivedKey || n != float64(int(n)) {
		return nil, ErrInvalidLength
	}
	if len(secret) == 0 {
		return nil, ErrMissingArgument
	}

	key := make([]byte, int(n))
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), key); err != nil {
		return nil, err
	}
	return []bridge.Value{bridge.Bytes(key)}, nil
}

// RandomBytes returns args[0] bytes from the system CSPRNG.
func RandomBytes(_ *bridge.CallContext, args []bridge.Value) ([]bridge.Value, error) {
	if len(args) < 1 {
		return nil, ErrMissingArgument
	}
	n, ok := args[0].AsNumber()
	if !ok || n < 0 || n > maxRandomBytes || n != float64(int(n)) {
		return nil, ErrInvalidLength
	}
	buf := make([]byte, int(n))
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return []bridge.Value{bridge.Bytes(buf)}, nil
}
