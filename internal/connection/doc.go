// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns exactly one persistent WebSocket connection per instance
//   - Drives the handshake state machine (Idle, Connecting, AwaitingAuth,
//     Authenticated, Closed, with absorbing AuthFailed)
//   - Sends the in-band auth frame and enforces the auth timeout
//   - Dispatches incoming frames to registered per-type handlers
//   - Notifies registered observers of every state transition
//
// Reconnection policy lives one layer up, in the stream package; this
// package only distinguishes a caller-initiated Stop (clean close, nil
// reason) from a transport drop (abnormal close, non-nil reason).
package connection
