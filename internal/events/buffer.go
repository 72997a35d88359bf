package events

import "sync"

const defaultMirrorCapacity = 1024

type message struct {
	Kind string
	Data []byte
}

// buffer is a bounded FIFO of pending mirror messages. When full, the oldest
// message is dropped so recording an event never blocks on a slow mirror.
type buffer struct {
	lock    sync.Mutex
	items   []*message
	head    int
	size    int
	dropped int
}

func newBuffer(capacity int) *buffer {
	if capacity <= 0 {
		capacity = defaultMirrorCapacity
	}
	return &buffer{items: make([]*message, capacity)}
}

// PushBack appends msg and returns the resulting size.
func (b *buffer) PushBack(msg *message) int {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.size == len(b.items) {
		b.items[b.head] = nil
		b.head = (b.head + 1) % len(b.items)
		b.size--
		b.dropped++
	}
	b.items[(b.head+b.size)%len(b.items)] = msg
	b.size++

	return b.size
}

// Pop returns nil when empty.
func (b *buffer) Pop() *message {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.size == 0 {
		return nil
	}
	msg := b.items[b.head]
	b.items[b.head] = nil
	b.head = (b.head + 1) % len(b.items)
	b.size--
	return msg
}

func (b *buffer) Size() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.size
}

// Dropped returns how many messages were discarded since the last call and resets the count.
func (b *buffer) Dropped() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	n := b.dropped
	b.dropped = 0
	return n
}
