// Package realtime carries the v1 messaging channel over websockets.
//
// The client half (Dial, Conn) opens the channel with the request layer's
// cookies and routes a 401 handshake through the renewal coordinator. The
// server half (Gateway, Hub, Conversation) is the in-memory fan-out the
// development backend mounts on /ws.
package realtime
