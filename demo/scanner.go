package demo

import (
	"time"

	"github.com/Query-farm/native-bridge/bridge"
)

// ErrScanCancelled is reported when the browser gives up before a code is read.
var ErrScanCancelled = &bridge.APIError{Code: "user cancelled"}

// Scanner answers dataMatrixScan calls. The reply arrives after delay, the
// way a real scanner replies once its UI is dismissed, without holding the
// serial executor meanwhile.
type Scanner struct {
	delay time.Duration
	codes []string
	next  int // touched only on the executor
}

// NewScanner returns a scanner cycling through codes.
func NewScanner(delay time.Duration, codes ...string) *Scanner {
	if len(codes) == 0 {
		codes = []string{defaultScanCode}
	}
	return &Scanner{delay: delay, codes: codes}
}

// Call implements bridge.GeneralHandler.
func (s *Scanner) Call(call *bridge.CallContext, _ []bridge.Value, resp *bridge.Responder) {
	code := s.codes[s.next%len(s.codes)]
	s.next++

	if s.delay <= 0 {
		resp.Reply(bridge.String(code))
		return
	}
	go func() {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-t.C:
			resp.Reply(bridge.String(code))
		case <-call.Ctx.Done():
			call.Logger.Debug("scan abandoned")
			resp.Fail(ErrScanCancelled)
		}
	}()
}
