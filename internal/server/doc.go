// Package server is the relay daemon's connection surface: the websocket
// session lifecycle (auth-first handshake, message acceptance, ack replies),
// the tenant-keyed broadcast hub, and the REST catch-up endpoints.
package server
