package e2e_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/questforge/encounterd/citest/testutil"
)

var _ = Describe("Upstream Resilience", func() {
	start := func(stack *testutil.Stack) *testutil.Response {
		resp, err := stack.Engine(http.MethodPost, "/session/start", map[string]any{"playerId": "player-r"})
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("should retry transient upstream failures", func() {
		stack := startStack()
		llm.FailNext(2, http.StatusInternalServerError)

		resp := start(stack)
		Expect(resp.Status).To(Equal(http.StatusOK), string(resp.Body))

		reqs := llm.Requests()
		Expect(reqs).To(HaveLen(3))
		Expect(reqs[0].Status).To(Equal(http.StatusInternalServerError))
		Expect(reqs[2].Status).To(Equal(http.StatusOK))
	})

	It("should report an upstream error after four attempts", func() {
		stack := startStack()
		llm.FailNext(4, http.StatusServiceUnavailable)

		resp := start(stack)
		Expect(resp.Status).To(Equal(http.StatusBadGateway))
		Expect(resp.ErrorCode()).To(Equal("UPSTREAM_ERROR"))
		Expect(llm.Requests()).To(HaveLen(4))
	})

	It("should fail fast once the circuit opens", func() {
		stack := startStack(testutil.WithBreakerThreshold(1))
		llm.FailNext(4, http.StatusInternalServerError)

		Expect(start(stack).Status).To(Equal(http.StatusBadGateway))
		Expect(llm.Requests()).To(HaveLen(4))

		resp := start(stack)
		Expect(resp.Status).To(Equal(http.StatusServiceUnavailable))
		Expect(resp.ErrorCode()).To(Equal("SERVICE_UNAVAILABLE"))
		Expect(resp.Header.Get("Retry-After")).NotTo(BeEmpty())
		Expect(llm.Requests()).To(HaveLen(4), "open circuit must not reach upstream")

		health, err := stack.GatewayGet("/health/providers", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(health.Body)).To(ContainSubstring("OPEN"))
	})

	It("should reject unparseable model output", func() {
		stack := startStack()
		llm.SetEncounter("I'm sorry, I can't produce JSON today.")

		resp := start(stack)
		Expect(resp.Status).To(Equal(http.StatusBadGateway))
		Expect(resp.ErrorCode()).To(Equal("UPSTREAM_ERROR"))
	})
})
