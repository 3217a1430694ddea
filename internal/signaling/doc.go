// Package signaling relays WebRTC signaling messages between browser clients.
//
// Each client holds one WebSocket registered under a client id. Messages that
// name a `target` are delivered to that client only; messages without one are
// broadcast to every other registered client. Payloads are never interpreted
// beyond that routing envelope.
package signaling
