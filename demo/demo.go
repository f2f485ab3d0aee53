// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package demo provides a set of bridge handlers standing in for the
// device-backed product handlers: a scanner, crypto primitives, a camera
// frame source exposed as a pull-stream and as a push-stream, and a raw
// noise stream.
package demo

import (
	"time"

	"github.com/Query-farm/native-bridge/bridge"
)

// API names registered by Register.
const (
	APIDataMatrixScan  = "dataMatrixScan"
	APIEcho            = "echo"
	APIDigest          = "digest"
	APIDeriveKey       = "deriveKey"
	APIRandomBytes     = "randomBytes"
	APIPhotoStream     = "photoStream"
	APIPhotoCapture    = "photoCapturePushStream"
	APINoise           = "noise"
	defaultScanCode    = "ABC123"
	defaultFrameWidth  = 64
	defaultFrameHeight = 48
)

// Options configures the demo handlers.
type Options struct {
	// ScanCodes are returned by successive dataMatrixScan calls, cycling.
	// Defaults to a single "ABC123".
	ScanCodes []string
	// ScanDelay simulates the time a user spends in the scanner UI.
	ScanDelay time.Duration
	// FrameWidth and FrameHeight size the synthetic camera frames.
	FrameWidth  int
	FrameHeight int
}

func (o Options) withDefaults() Options {
	if len(o.ScanCodes) == 0 {
		o.ScanCodes = []string{defaultScanCode}
	}
	if o.FrameWidth <= 0 {
		o.FrameWidth = defaultFrameWidth
	}
	if o.FrameHeight <= 0 {
		o.FrameHeight = defaultFrameHeight
	}
	return o
}

// Register adds every demo API to server.
func Register(server *bridge.Server, opts Options) error {
	opts = opts.withDefaults()

	generals := []struct {
		name string
		h    bridge.GeneralHandler
	}{
		{APIDataMatrixScan, NewScanner(opts.ScanDelay, opts.ScanCodes...)},
		{APIEcho, bridge.GeneralFunc(Echo)},
		{APIDigest, bridge.GeneralFunc(Digest)},
		{APIDeriveKey, bridge.GeneralFunc(DeriveKey)},
		{APIRandomBytes, bridge.GeneralFunc(RandomBytes)},
	}
	for _, g := range generals {
		if err := server.RegisterGeneral(g.name, g.h); err != nil {
			return err
		}
	}
	if err := server.RegisterPullStream(APIPhotoStream, NewPhotoStream(opts.FrameWidth, opts.FrameHeight)); err != nil {
		return err
	}
	if err := server.RegisterPushStream(APIPhotoCapture, NewPhotoCapture(opts.FrameWidth, opts.FrameHeight)); err != nil {
		return err
	}
	return server.RegisterRawStream(APINoise, bridge.RawStreamFunc(Noise))
}

// Echo returns its arguments unchanged.
func Echo(_ *bridge.CallContext, args []bridge.Value) ([]bridge.Value, error) {
	return args, nil
}
