// Package protocol defines the JSON wire protocol spoken over a realtime
// connection: inbound client frames, outbound server envelopes, and the
// close/error code space.
package protocol
