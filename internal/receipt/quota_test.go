package receipt

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-scan/internal/scanning"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

var _ = Describe("DailyQuota", func() {
	var (
		clock *manualClock
		quota *DailyQuota
		ctx   context.Context
	)

	BeforeEach(func() {
		clock = &manualClock{now: time.Date(2024, 3, 25, 23, 0, 0, 0, time.UTC)}
		quota = NewDailyQuota(2, clock)
		ctx = context.Background()
	})

	It("should satisfy scanning.UsageGate", func() {
		var gate scanning.UsageGate = quota
		Expect(gate.CanProceed(ctx, "family-1")).To(BeTrue())
	})

	It("should deny scans past the limit", func() {
		Expect(quota.CanProceed(ctx, "family-1")).To(BeTrue())
		Expect(quota.CanProceed(ctx, "family-1")).To(BeTrue())
		Expect(quota.CanProceed(ctx, "family-1")).To(BeFalse())
		Expect(quota.Remaining("family-1")).To(Equal(0))
	})

	It("should count each scope separately", func() {
		Expect(quota.CanProceed(ctx, "family-1")).To(BeTrue())
		Expect(quota.CanProceed(ctx, "family-1")).To(BeTrue())
		Expect(quota.CanProceed(ctx, "family-2")).To(BeTrue())
		Expect(quota.Remaining("family-2")).To(Equal(1))
	})

	It("should reset at the start of a new day", func() {
		Expect(quota.CanProceed(ctx, "family-1")).To(BeTrue())
		Expect(quota.CanProceed(ctx, "family-1")).To(BeTrue())

		clock.now = clock.now.Add(2 * time.Hour)
		Expect(quota.Remaining("family-1")).To(Equal(2))
		Expect(quota.CanProceed(ctx, "family-1")).To(BeTrue())
	})

	When("the limit is zero", func() {
		BeforeEach(func() {
			quota = NewDailyQuota(0, clock)
		})

		It("should never deny", func() {
			for range 10 {
				Expect(quota.CanProceed(ctx, "family-1")).To(BeTrue())
			}
			Expect(quota.Remaining("family-1")).To(Equal(-1))
		})
	})
})
