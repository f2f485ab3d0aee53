// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package demo

import (
	"encoding/binary"
	"sync"

	"github.com/Query-farm/native-bridge/bridge"
)

// Error codes shared by the photo handlers.
var (
	ErrStreamNotOpen     = &bridge.APIError{Code: "stream not open"}
	ErrUnsupportedFormat = &bridge.APIError{Code: "feature not supported"}
)

// CaptureCommand is the text a browser sends on a paired channel to request
// one frame.
const CaptureCommand = "capture"

// frameSource produces synthetic 4-byte-per-pixel frames whose contents
// change with every frame.
type frameSource struct {
	width, height int
	seq           uint32
}

func (f *frameSource) next() []byte {
	f.seq++
	buf := make([]byte, f.width*f.height*4)
	for y := 0; y < f.height; y++ {
		for x := 0; x < f.width; x++ {
			i := (y*f.width + x) * 4
			buf[i] = byte(x + int(f.seq))
			buf[i+1] = byte(y + int(f.seq))
			buf[i+2] = byte(f.seq)
			buf[i+3] = 0xff
		}
	}
	return buf
}

func checkFormat(args []bridge.Value) error {
	if len(args) == 0 {
		return nil
	}
	if format, _ := args[0].AsString(); format != "bgra" && format != "rgba" {
		return ErrUnsupportedFormat
	}
	return nil
}

// PhotoStream is a pull-stream of camera frames. open takes a pixel format
// and a frame rate hint; every nextValue returns one frame as bytes.
type PhotoStream struct {
	width, height int

	// Only touched on the serial executor.
	open   bool
	source *frameSource
}

// NewPhotoStream returns a pull-stream producing width x height frames.
func NewPhotoStream(width, height int) *PhotoStream {
	return &PhotoStream{width: width, height: height}
}

// Open implements bridge.PullStream.
func (p *PhotoStream) Open(call *bridge.CallContext, args []bridge.Value) error {
	if err := checkFormat(args); err != nil {
		return err
	}
	p.open = true
	p.source = &frameSource{width: p.width, height: p.height}
	call.Logger.Debug("photo stream opened", "args", len(args))
	return nil
}

// Next implements bridge.PullStream.
func (p *PhotoStream) Next(_ *bridge.CallContext, _ []bridge.Value) ([]bridge.Value, error) {
	if !p.open {
		return nil, ErrStreamNotOpen
	}
	return []bridge.Value{bridge.Bytes(p.source.next())}, nil
}

// Close implements bridge.PullStream.
func (p *PhotoStream) Close(_ *bridge.CallContext) {
	p.open = false
	p.source = nil
}

// PhotoCapture is a push-stream of camera frames. Each channel answers the
// browser's "capture" command with one message made of three parts: width
// and height as big-endian uint32, then the pixels.
type PhotoCapture struct {
	width, height int

	mu     sync.Mutex
	open   bool
	source *frameSource
}

// NewPhotoCapture returns a push-stream producing width x height frames.
func NewPhotoCapture(width, height int) *PhotoCapture {
	return &PhotoCapture{width: width, height: height}
}

// OpenStream implements bridge.PushStream.
func (p *PhotoCapture) OpenStream(_ *bridge.CallContext, args []bridge.Value) error {
	if err := checkFormat(args); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	p.source = &frameSource{width: p.width, height: p.height}
	return nil
}

// OpenChannel implements bridge.PushStream.
func (p *PhotoCapture) OpenChannel(call *bridge.CallContext, _ []bridge.Value, name string) (*bridge.Channel, error) {
	p.mu.Lock()
	open := p.open
	p.mu.Unlock()
	if !open {
		return nil, ErrStreamNotOpen
	}
	return call.NewChannel(name, p.handlePeerData)
}

// Close implements bridge.PushStream.
func (p *PhotoCapture) Close(call *bridge.CallContext) {
	p.mu.Lock()
	p.open = false
	p.source = nil
	p.mu.Unlock()
	for _, ch := range call.Channels() {
		ch.Close()
	}
}

// handlePeerData runs on the connection's read goroutine.
func (p *PhotoCapture) handlePeerData(ch *bridge.Channel, data []byte) {
	if string(data) != CaptureCommand {
		return
	}
	if err := p.Capture(ch); err != nil {
		_ = ch.SendText("error: "+err.Error(), true)
	}
}

// Capture pushes one frame to ch.
func (p *PhotoCapture) Capture(ch *bridge.Channel) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return ErrStreamNotOpen
	}
	frame := p.source.next()
	p.mu.Unlock()

	var dim [4]byte
	binary.BigEndian.PutUint32(dim[:], uint32(p.width))
	if err := ch.SendData(dim[:], false); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(dim[:], uint32(p.height))
	if err := ch.SendData(dim[:], false); err != nil {
		return err
	}
	return ch.SendData(frame, true)
}
