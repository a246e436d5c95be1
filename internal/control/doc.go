// Package control is the internal message-passing layer between the concurrent loops
// of the server and of the client. Each piece of state has one owner; consumers receive
// hand-offs or immutable copies through a Mailbox instead of sharing memory.
package control
