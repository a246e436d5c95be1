package control

import (
	"context"
)

// DefaultCapacity is the number of messages a mailbox buffers before senders block
const DefaultCapacity = 16

// Mailbox is a bounded FIFO queue with a single consumer.
// Messages from one producer are received in send order.
type Mailbox struct {
	name string
	ch   chan Message
}

// NewMailbox creates a mailbox for the named consumer
func NewMailbox(name string, capacity int) *Mailbox {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	return &Mailbox{
		name: name,
		ch:   make(chan Message, capacity),
	}
}

// Name returns the consumer name
func (m *Mailbox) Name() string {
	return m.name
}

// Send enqueues msg, blocking while the mailbox is full
func (m *Mailbox) Send(ctx context.Context, msg Message) error {
	select {
	case m.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryReceive returns the next pending message without blocking
func (m *Mailbox) TryReceive() (Message, bool) {
	select {
	case msg := <-m.ch:
		return msg, true
	default:
		return nil, false
	}
}

// Receive blocks until a message is available or ctx is done
func (m *Mailbox) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-m.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of pending messages
func (m *Mailbox) Len() int {
	return len(m.ch)
}

// Messages exposes the receive side for use in a select.
// Only the mailbox consumer may receive from it.
func (m *Mailbox) Messages() <-chan Message {
	return m.ch
}
