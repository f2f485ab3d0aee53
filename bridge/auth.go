// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// Authorizer is the process-wide cookie check consulted on every call and
// byte retrieval. Origin also scopes the CORS headers.
//
// The check is advisory unless Enforce is set: a request without the
// configured cookie is logged and still served.
type Authorizer struct {
	Name    string
	Token   string
	Origin  string
	Enforce bool
}

// verify reports whether r carries the configured cookie. An Authorizer
// without a cookie name accepts everything.
func (a *Authorizer) verify(r *http.Request) bool {
	if a == nil || a.Name == "" {
		return true
	}
	c, err := r.Cookie(a.Name)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(a.Token)) == 1
}

// authorize runs the cookie check and decides whether to serve r.
func (a *Authorizer) authorize(r *http.Request, logger *slog.Logger) bool {
	if a.verify(r) {
		return true
	}
	logger.Warn("request failed cookie check",
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
		"enforced", a.Enforce,
	)
	return !a.Enforce
}

func (a *Authorizer) allowOrigin() string {
	if a == nil || a.Origin == "" {
		return "*"
	}
	return a.Origin
}
