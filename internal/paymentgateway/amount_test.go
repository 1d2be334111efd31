package paymentgateway_test

import (
	"errors"
	"sync"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/ticket-payments/internal/paymentgateway"
)

var fixedNow = time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

var _ = ginkgo.Describe("Minor unit conversion", func() {
	ginkgo.DescribeTable("round-trips two-decimal amounts exactly",
		func(amount string, minor int64) {
			d := decimal.RequireFromString(amount)

			got, err := paymentgateway.ToMinorUnits(d)

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(got).To(gomega.Equal(minor))
			gomega.Expect(paymentgateway.FromMinorUnits(got).Equal(d)).To(gomega.BeTrue())
		},
		ginkgo.Entry("unit price", "3000.00", int64(300000)),
		ginkgo.Entry("one kobo", "0.01", int64(1)),
		ginkgo.Entry("one decimal", "19.9", int64(1990)),
		ginkgo.Entry("binary-unfriendly", "0.29", int64(29)),
		ginkgo.Entry("bulk of seven", "21000", int64(2100000)),
		ginkgo.Entry("large", "99999999.99", int64(9999999999)),
		ginkgo.Entry("trailing zeros", "12.3400", int64(1234)),
	)

	ginkgo.It("round-trips every cent value up to 100.00", func() {
		for minor := int64(1); minor <= 10000; minor++ {
			d := paymentgateway.FromMinorUnits(minor)
			got, err := paymentgateway.ToMinorUnits(d)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(got).To(gomega.Equal(minor))
		}
	})

	ginkgo.DescribeTable("rejects amounts that cannot convert",
		func(amount string) {
			_, err := paymentgateway.ToMinorUnits(decimal.RequireFromString(amount))

			var convErr *paymentgateway.ConversionError
			gomega.Expect(errors.As(err, &convErr)).To(gomega.BeTrue())
			gomega.Expect(convErr.Amount.Equal(decimal.RequireFromString(amount))).To(gomega.BeTrue())
		},
		ginkgo.Entry("sub-kobo", "10.005"),
		ginkgo.Entry("tiny", "0.001"),
		ginkgo.Entry("zero", "0"),
		ginkgo.Entry("negative", "-5.00"),
		ginkgo.Entry("overflow", "999999999999999999999"),
	)
})

var _ = ginkgo.Describe("References and signatures", func() {
	ginkgo.It("generates unique references under concurrency", func() {
		const n = 2000
		refs := make(chan string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				refs <- paymentgateway.GenerateReference("RCCG", fixedNow)
			}()
		}
		wg.Wait()
		close(refs)

		seen := map[string]struct{}{}
		for r := range refs {
			gomega.Expect(r).To(gomega.HavePrefix("RCCG_20260115093000_"))
			seen[r] = struct{}{}
		}
		gomega.Expect(seen).To(gomega.HaveLen(n))
	})

	ginkgo.It("accepts a valid signature and rejects tampering", func() {
		body := []byte(`{"event":"charge.success","data":{"reference":"R1"}}`)
		sig := paymentgateway.Sign(body, "secret")

		gomega.Expect(paymentgateway.ValidSignature(body, "secret", sig)).To(gomega.BeTrue())
		gomega.Expect(paymentgateway.ValidSignature(body, "other", sig)).To(gomega.BeFalse())
		gomega.Expect(paymentgateway.ValidSignature(append(body, ' '), "secret", sig)).To(gomega.BeFalse())
		gomega.Expect(paymentgateway.ValidSignature(body, "secret", "")).To(gomega.BeFalse())
		gomega.Expect(paymentgateway.ValidSignature(body, "secret", "not-hex")).To(gomega.BeFalse())
		gomega.Expect(paymentgateway.ValidSignature(body, "", sig)).To(gomega.BeFalse())
	})
})
