// Package protocol implements the hasciicam datagram wire format.
// It encodes and decodes the per-packet options bitfield, the client subscribe/unsubscribe
// command, and the fixed-size frame packet, and splits rendered frames into fragments.
package protocol
