package server_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/in-the-loop-labs/pair-review/internal/review"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

func createRun() types.Run {
	GinkgoHelper()
	resp, err := client.Post(ctx, "/run", map[string]any{
		"reviewID": "review-e2e",
		"provider": "anthropic",
		"model":    "claude",
		"levels": []types.LevelConfig{
			{Level: 1, Voices: []types.VoiceConfig{
				{Provider: "anthropic", Model: "claude"},
				{Provider: "openai", Model: "gpt"},
			}},
			{Level: 2, Voices: []types.VoiceConfig{
				{Provider: "google", Model: "gemini"},
			}},
		},
	})
	Expect(err).NotTo(HaveOccurred())
	Expect(resp.StatusCode).To(Equal(http.StatusOK))

	var run types.Run
	Expect(resp.JSON(&run)).To(Succeed())
	return run
}

var _ = Describe("Run API", func() {
	It("creates and fetches run metadata", func() {
		run := createRun()
		Expect(run.ID).NotTo(BeEmpty())
		Expect(run.Status).To(Equal("pending"))
		Expect(run.Levels).To(HaveLen(2))

		resp, err := client.Get(ctx, "/run/"+run.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("fans level ingest out on /event/analysis", func() {
		run := createRun()

		sse := testServer.SSEClient()
		Expect(sse.Connect(ctx, "/event/analysis")).To(Succeed())
		defer sse.Close()

		handshake, err := sse.Next(5 * time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(handshake.Type).To(Equal(types.EventConnected))

		resp, err := client.Post(ctx, "/run/"+run.ID+"/level/1", types.LevelUpdate{
			VoiceID: types.VoiceKey("anthropic", "claude", 0),
			Status:  "running",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		frame, err := sse.WaitFor(types.EventProgress, 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.SessionID).To(Equal(run.ID))
		Expect(frame.Levels).To(HaveKey("1"))
		Expect(frame.Levels["1"].VoiceID).To(Equal("anthropic/claude/0"))
	})

	It("reports the outcome as a terminal frame and updates the record", func() {
		run := createRun()

		sse := testServer.SSEClient()
		Expect(sse.Connect(ctx, "/event/analysis")).To(Succeed())
		defer sse.Close()
		_, err := sse.Next(5 * time.Second) // handshake
		Expect(err).NotTo(HaveOccurred())

		resp, err := client.Post(ctx, "/run/"+run.ID+"/outcome", map[string]string{
			"outcome": "completed",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		frame, err := sse.WaitFor(types.EventComplete, 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(frame.SessionID).To(Equal(run.ID))
		Expect(frame.Outcome).To(Equal("completed"))

		resp, err = client.Get(ctx, "/run/"+run.ID)
		Expect(err).NotTo(HaveOccurred())
		var got types.Run
		Expect(resp.JSON(&got)).To(Succeed())
		Expect(got.Status).To(Equal("completed"))
	})

	It("rejects non-terminal outcomes", func() {
		run := createRun()

		resp, err := client.Post(ctx, "/run/"+run.ID+"/outcome", map[string]string{
			"outcome": "running",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("stores suggestions with computed diff stats", func() {
		run := createRun()

		resp, err := client.Post(ctx, "/run/"+run.ID+"/suggestion", review.Suggestion{
			File:   "internal/api/handler.go",
			Title:  "check the error before using the response",
			Before: "resp := call()\nuse(resp)\n",
			After:  "resp, err := call()\nif err != nil {\n\treturn err\n}\nuse(resp)\n",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var saved review.Suggestion
		Expect(resp.JSON(&saved)).To(Succeed())
		Expect(saved.Additions).To(Equal(4))
		Expect(saved.Deletions).To(Equal(1))

		resp, err = client.Get(ctx, "/run/"+run.ID+"/suggestion")
		Expect(err).NotTo(HaveOccurred())
		var list []review.Suggestion
		Expect(resp.JSON(&list)).To(Succeed())
		Expect(list).To(HaveLen(1))
	})
})
