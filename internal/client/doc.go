// Package client implements the hasciicam viewer: a bootstrap loop that asks the
// user for the server address and a session loop that subscribes, prints the ASCII
// stream and unsubscribes on exit.
package client
