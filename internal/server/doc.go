// Package server implements the HTTP and WebSocket side of roomchat.
//
// A Hub owns every open Connection and delivers frames by connection id.
// Inbound frames are read by each connection's readPump and handed to a
// FrameHandler (the chat router); outbound frames are queued with Hub.Send
// and written one per WebSocket message by writePump. Server ties the hub,
// the room registry and the chat service together and exposes the routes.
package server
