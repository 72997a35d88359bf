package events

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("mirror buffer", Ordered, func() {
	Context("push and pop", func() {
		It("keeps messages in order", func() {
			buffer := newBuffer(4)

			Expect(buffer.PushBack(&message{Kind: KindJobQueued, Data: []byte("msg1")})).To(Equal(1))
			Expect(buffer.PushBack(&message{Kind: KindJobStarted, Data: []byte("msg2")})).To(Equal(2))
			Expect(buffer.PushBack(&message{Kind: KindJobCompleted, Data: []byte("msg3")})).To(Equal(3))
			Expect(buffer.Size()).To(Equal(3))

			Expect(buffer.Pop().Data).To(Equal([]byte("msg1")))
			Expect(buffer.Pop().Data).To(Equal([]byte("msg2")))
			Expect(buffer.Size()).To(Equal(1))

			// wraps around the ring
			buffer.PushBack(&message{Kind: KindJobQueued, Data: []byte("msg4")})
			buffer.PushBack(&message{Kind: KindJobQueued, Data: []byte("msg5")})
			buffer.PushBack(&message{Kind: KindJobQueued, Data: []byte("msg6")})

			Expect(buffer.Pop().Data).To(Equal([]byte("msg3")))
			Expect(buffer.Pop().Data).To(Equal([]byte("msg4")))
			Expect(buffer.Pop().Data).To(Equal([]byte("msg5")))
			Expect(buffer.Pop().Data).To(Equal([]byte("msg6")))
			Expect(buffer.Pop()).To(BeNil())
			Expect(buffer.Size()).To(Equal(0))
			Expect(buffer.Dropped()).To(Equal(0))
		})
	})

	Context("when full", func() {
		It("drops the oldest message", func() {
			buffer := newBuffer(2)

			buffer.PushBack(&message{Kind: KindJobQueued, Data: []byte("msg1")})
			buffer.PushBack(&message{Kind: KindJobQueued, Data: []byte("msg2")})
			Expect(buffer.PushBack(&message{Kind: KindJobQueued, Data: []byte("msg3")})).To(Equal(2))

			Expect(buffer.Dropped()).To(Equal(1))
			Expect(buffer.Dropped()).To(Equal(0))
			Expect(buffer.Pop().Data).To(Equal([]byte("msg2")))
			Expect(buffer.Pop().Data).To(Equal([]byte("msg3")))
		})

		It("falls back to the default capacity", func() {
			Expect(newBuffer(0).items).To(HaveLen(defaultMirrorCapacity))
		})
	})
})
