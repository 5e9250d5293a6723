package e2e_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/questforge/encounterd/pkg/types"
)

var _ = Describe("Gateway", func() {
	It("should require a signature on generation routes", func() {
		stack := startStack()

		resp, err := stack.Gateway("/gen/encounter", map[string]any{"difficulty": "easy"}, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(http.StatusUnauthorized))
		Expect(resp.ErrorCode()).To(Equal("AUTH_ERROR"))
		Expect(llm.Requests()).To(BeEmpty())
	})

	It("should generate rewards for a completed encounter", func() {
		stack := startStack()

		resp, err := stack.Gateway("/gen/reward", map[string]any{
			"encounterId": "enc_1",
			"difficulty":  "medium",
		}, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(http.StatusOK), string(resp.Body))

		var out types.RewardResponse
		Expect(resp.Decode(&out)).To(Succeed())
		Expect(out.Rewards).To(HaveLen(2))
		Expect(out.Rewards[1].ItemID).To(Equal("bell_clapper"))
	})

	It("should estimate cost without calling upstream", func() {
		stack := startStack()

		resp, err := stack.Gateway("/gen/estimate", map[string]any{"difficulty": "hard"}, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(http.StatusOK), string(resp.Body))
		Expect(llm.Requests()).To(BeEmpty())
	})

	It("should expose metrics for the calls it served", func() {
		stack := startStack()
		_, err := stack.Gateway("/gen/encounter", map[string]any{"difficulty": "easy"}, true)
		Expect(err).NotTo(HaveOccurred())

		resp, err := stack.GatewayGet("/metrics", false)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(resp.Body)).To(ContainSubstring("encounterd_upstream_requests_total"))
	})
})
