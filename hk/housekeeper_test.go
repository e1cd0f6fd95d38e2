package hk_test

import (
	"time"

	"github.com/OpenHCSDev/polystore-core/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	It("fires a registered callback and then reschedules it", func() {
		fired := make(chan int64, 8)
		hk.Reg("t1"+hk.NameSuffix, func(now int64) time.Duration {
			fired <- now
			return 20 * time.Millisecond
		}, time.Millisecond)

		Eventually(fired, time.Second).Should(Receive())
		Eventually(fired, time.Second).Should(Receive())

		hk.Unreg("t1" + hk.NameSuffix)
	})

	It("stops rescheduling once the callback returns UnregInterval", func() {
		calls := 0
		done := make(chan struct{})
		hk.Reg("t2"+hk.NameSuffix, func(int64) time.Duration {
			calls++
			if calls == 1 {
				close(done)
				return hk.UnregInterval
			}
			return time.Millisecond
		}, time.Millisecond)

		Eventually(done, time.Second).Should(BeClosed())
		Consistently(func() int { return calls }, 50*time.Millisecond).Should(Equal(1))
	})
})
