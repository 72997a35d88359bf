package events

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("hub", func() {
	It("coalesces notifications per subscriber", func() {
		hub := NewHub()
		ch, unsubscribe := hub.Subscribe()
		defer unsubscribe()

		hub.Notify()
		hub.Notify()
		hub.Notify()

		Eventually(ch).Should(Receive())
		Consistently(ch, "50ms").ShouldNot(Receive())
	})

	It("wakes every subscriber", func() {
		hub := NewHub()
		first, unsubFirst := hub.Subscribe()
		second, unsubSecond := hub.Subscribe()
		defer unsubFirst()
		defer unsubSecond()

		hub.Notify()

		Eventually(first).Should(Receive())
		Eventually(second).Should(Receive())
	})

	It("closes the channel on unsubscribe", func() {
		hub := NewHub()
		ch, unsubscribe := hub.Subscribe()
		Expect(hub.Len()).To(Equal(1))

		unsubscribe()
		unsubscribe()

		Expect(hub.Len()).To(BeZero())
		Eventually(ch).Should(BeClosed())
		hub.Notify()
	})
})
