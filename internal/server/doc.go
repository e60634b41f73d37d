// Package server implements the HTTP and WebSocket side of the chat.
//
// A Hub owns the set of live connections and a single publish loop that
// saves each message to the history before broadcasting it. Every
// connection is a Client with read and write pumps; its Session runs the
// login, message and logout protocol. Handler exposes the WebSocket
// endpoint, a health check, a test page and the static web client.
package server
