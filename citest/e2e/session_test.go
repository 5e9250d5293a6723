package e2e_test

import (
	"fmt"
	"net/http"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/questforge/encounterd/citest/testutil"
	"github.com/questforge/encounterd/pkg/types"
)

func startSession(stack *testutil.Stack, playerID string) *types.Session {
	resp, err := stack.Engine(http.MethodPost, "/session/start", map[string]any{"playerId": playerID})
	Expect(err).NotTo(HaveOccurred())
	Expect(resp.Status).To(Equal(http.StatusOK), string(resp.Body))
	var sess types.Session
	Expect(resp.Decode(&sess)).To(Succeed())
	return &sess
}

func expectSession(resp *testutil.Response, err error) *types.Session {
	Expect(err).NotTo(HaveOccurred())
	Expect(resp.Status).To(Equal(http.StatusOK), string(resp.Body))
	var sess types.Session
	Expect(resp.Decode(&sess)).To(Succeed())
	return &sess
}

var _ = Describe("Session Workflows", func() {
	Describe("Basic Session Lifecycle", func() {
		It("should play an encounter from start to completion", func() {
			stack := startStack()

			sess := startSession(stack, "player-1")
			Expect(sess.ID).To(HavePrefix("ses_"))
			Expect(sess.Encounter.Title).To(Equal("The Drowned Bell"))
			Expect(sess.Encounter.Objectives).To(HaveLen(2))
			Expect(sess.State.CurrentObjectiveIndex).To(Equal(0))
			Expect(sess.State.ObjectivesCompleted).To(BeEmpty())
			Expect(sess.State.NPCInteractions).To(HaveKeyWithValue("npc_1", 0))

			path := "/session/" + sess.ID
			updated := expectSession(stack.Engine(http.MethodPatch, path+"/objective/obj_1", nil))
			Expect(updated.State.ObjectivesCompleted).To(Equal([]string{"obj_1"}))
			Expect(updated.State.CurrentObjectiveIndex).To(Equal(1))
			Expect(updated.Encounter.Objectives[0].Completed).To(BeTrue())

			expectSession(stack.Engine(http.MethodPost, path+"/npc/npc_1/interact", nil))
			updated = expectSession(stack.Engine(http.MethodPost, path+"/npc/npc_1/interact", nil))
			Expect(updated.State.NPCInteractions["npc_1"]).To(Equal(2))

			done := expectSession(stack.Engine(http.MethodPost, path+"/complete", nil))
			Expect(done.CompletedAt).NotTo(BeNil())
			Expect(*done.CompletedAt).To(BeNumerically(">=", done.StartTime))

			again, err := stack.Engine(http.MethodPost, path+"/complete", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Status).To(Equal(http.StatusConflict))
			Expect(again.ErrorCode()).To(Equal("CONFLICT"))

			Expect(llm.Requests()).To(HaveLen(1))
		})

		It("should forward generation hints to the upstream prompt", func() {
			stack := startStack()

			resp, err := stack.Engine(http.MethodPost, "/session/start", map[string]any{
				"playerId":   "player-2",
				"difficulty": "hard",
				"theme":      "sunken cathedral",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(http.StatusOK), string(resp.Body))

			reqs := llm.Requests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].Prompt).To(ContainSubstring("Create a hard encounter"))
			Expect(reqs[0].Prompt).To(ContainSubstring("sunken cathedral"))
		})

		It("should list a player's sessions oldest first", func() {
			stack := startStack()
			first := startSession(stack, "player-3")
			second := startSession(stack, "player-3")
			startSession(stack, "someone-else")

			resp, err := stack.Engine(http.MethodGet, "/session/?playerId=player-3", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(http.StatusOK))
			var list []types.Session
			Expect(resp.Decode(&list)).To(Succeed())
			Expect(list).To(HaveLen(2))
			Expect([]string{list[0].ID, list[1].ID}).To(ConsistOf(first.ID, second.ID))
			Expect(list[0].StartTime).To(BeNumerically("<=", list[1].StartTime))
		})

		It("should give concurrent starts distinct sessions", func() {
			stack := startStack()

			const n = 8
			ids := make(chan string, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					ids <- startSession(stack, fmt.Sprintf("player-%d", i)).ID
				}(i)
			}
			wg.Wait()
			close(ids)

			seen := map[string]bool{}
			for id := range ids {
				seen[id] = true
			}
			Expect(seen).To(HaveLen(n))
		})
	})

	Describe("Persistence", func() {
		It("should recover completed sessions after a restart", func() {
			stack := startStack(testutil.WithPersistActive(false))
			sess := startSession(stack, "player-4")
			expectSession(stack.Engine(http.MethodPost, "/session/"+sess.ID+"/complete", nil))
			active := startSession(stack, "player-4")
			stack.Stop()

			restarted, err := testutil.StartStack(llm, stack.DataDir, testutil.WithPersistActive(false))
			Expect(err).NotTo(HaveOccurred())
			defer restarted.Stop()

			got := expectSession(restarted.Engine(http.MethodGet, "/session/"+sess.ID, nil))
			Expect(got.CompletedAt).NotTo(BeNil())

			lost, err := restarted.Engine(http.MethodGet, "/session/"+active.ID, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(lost.Status).To(Equal(http.StatusNotFound))
		})

		It("should recover active sessions when they are written through", func() {
			stack := startStack(testutil.WithPersistActive(true))
			sess := startSession(stack, "player-5")
			expectSession(stack.Engine(http.MethodPatch, "/session/"+sess.ID+"/objective/obj_2", nil))
			stack.Stop()

			restarted, err := testutil.StartStack(llm, stack.DataDir)
			Expect(err).NotTo(HaveOccurred())
			defer restarted.Stop()

			got := expectSession(restarted.Engine(http.MethodGet, "/session/"+sess.ID, nil))
			Expect(got.CompletedAt).To(BeNil())
			Expect(got.State.ObjectivesCompleted).To(Equal([]string{"obj_2"}))
		})
	})
})
