// Package server implements the WebSocket relay: the auth handshake, the
// session registry, presence broadcasts, message routing and the lifecycle
// that ties them to one connection.
//
// A connection is served start to finish by Hub.Serve on the HTTP handler
// goroutine, with a second goroutine running the write pump. All writes after
// the handshake go through the client's bounded send queue, so fan-out never
// blocks on a slow peer.
package server
