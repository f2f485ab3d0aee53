// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the host side of a loopback RPC bridge that
// exposes native capabilities to a web front-end running in an embedded
// browser view.
//
// The web side calls native APIs by name with positional arguments. The
// host executes registered handlers and returns results as JSON, handing
// large binary values out through a side-channel GET and continuous data
// through either repeated calls or a persistent WebSocket.
//
// # API kinds
//
// Four handler kinds are supported, each in its own name space:
//
//   - General: one request, one response. Register with
//     [Server.RegisterGeneral]; use [GeneralFunc] for synchronous handlers
//     or [AsyncFunc] when the reply arrives later (for example after a
//     scanner UI is dismissed).
//   - Pull-stream: an iterator driven by the client through three calls,
//     open, nextValue and close. Register with [Server.RegisterPullStream].
//   - Push-stream: the host pushes frames to the browser over a
//     [Channel] paired with a WebSocket connection on a second listener.
//     Register with [Server.RegisterPushStream].
//   - Raw stream: a general-call name whose response body is streamed
//     bytes instead of JSON. Register with [Server.RegisterRawStream].
//
// # HTTP transport
//
// [HttpServer] wraps a [Server] and exposes it with the following routes:
//
//	POST /{api}                                   general call (or raw stream)
//	POST /{api}/open|nextValue|close              pull-stream action
//	POST /pushStream/.../open/{api}               start a push-stream API
//	POST /pushStream/.../connect/{api}/{channel}  open a channel
//	POST /pushStream/.../close/{api}              stop a push-stream API
//	GET  /retrieve-resource?id={id}               fetch one side-stored blob
//	GET  /__describe__                             API catalogue (JSON or Arrow IPC)
//	GET  /                                         HTML landing page
//	OPTIONS *                                     CORS preflight
//
// Request bodies are multipart/form-data with one field per positional
// argument, named by its index. Responses are {"result":[...]} or
// {"error":"<code>"}; application errors never change the HTTP status.
//
// # Persistent transport
//
// [SocketServer] accepts WebSocket connections whose first message is a
// channel id returned by a connect call. After the handshake the server
// sends a READY text frame and forwards pushes as binary or text frames.
//
// # Execution model
//
// Every handler invocation is funnelled through one serial executor so
// handler authors can mutate handler-local state without locking. Replies
// may arrive later from any goroutine through a [Responder].
package bridge
