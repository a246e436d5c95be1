// Package server implements the hasciicam streaming server: the UDP listener that
// maintains the subscriber registry, the button loop that toggles the stream, the
// broadcaster that fragments frames to every subscriber, and the HTTP status API.
//
// The three loops share no memory. The listener and the button loop publish
// control messages into the broadcaster's mailbox and the broadcaster owns its
// own copy of the stream state and subscriber list.
package server
