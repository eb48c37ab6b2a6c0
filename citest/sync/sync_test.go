package sync_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/in-the-loop-labs/pair-review/internal/channel"
	"github.com/in-the-loop-labs/pair-review/internal/coordinator"
	"github.com/in-the-loop-labs/pair-review/internal/lifecycle"
	"github.com/in-the-loop-labs/pair-review/internal/progress"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

func newCoordinator(hooks progress.Hooks) *coordinator.Coordinator {
	return coordinator.New(coordinator.Config{
		BaseURL:  testServer.BaseURL,
		ReviewID: "review-sync",
		ChannelOptions: []channel.Option{
			channel.WithReconnectDelay(100 * time.Millisecond),
		},
		ProgressHooks: hooks,
	})
}

var _ = Describe("Sync layer end to end", func() {
	It("streams a full conversation turn into the accumulator", func() {
		coord := newCoordinator(progress.Hooks{})
		defer coord.Close()

		result, err := coord.Send(ctx, lifecycle.SendPayload{Content: "first message"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.SessionID).NotTo(BeEmpty())

		acc := coord.Accumulator()
		Expect(acc).NotTo(BeNil())

		Eventually(func() []types.Message {
			return acc.Messages()
		}, 10*time.Second, 50*time.Millisecond).Should(HaveLen(2))

		messages := acc.Messages()
		Expect(messages[0].Content).To(Equal("first message"))
		Expect(messages[1].Content).To(Equal("echo: first message"))
		Expect(acc.IsStreaming()).To(BeFalse())
	})

	It("recovers transparently from a server-side session expiry", func() {
		coord := newCoordinator(progress.Hooks{})
		defer coord.Close()

		first, err := coord.NewConversation(ctx, "")
		Expect(err).NotTo(HaveOccurred())

		testServer.Server.Sessions().Expire(first.ID)

		result, err := coord.Send(ctx, lifecycle.SendPayload{Content: "after expiry"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.SessionID).NotTo(Equal(first.ID))

		acc := coord.Accumulator()
		Expect(acc.SessionID()).To(Equal(result.SessionID))

		Eventually(func() []types.Message {
			return acc.Messages()
		}, 10*time.Second, 50*time.Millisecond).Should(HaveLen(2))
		Expect(acc.Messages()[1].Content).To(Equal("echo: after expiry"))
	})

	It("keeps the draft when the review is not open", func() {
		coord := coordinator.New(coordinator.Config{
			BaseURL:  testServer.BaseURL,
			ReviewID: "",
		})
		defer coord.Close()

		_, err := coord.Send(ctx, lifecycle.SendPayload{Content: "orphan draft"})
		Expect(err).To(HaveOccurred())

		var sendErr *lifecycle.SendError
		Expect(err).To(BeAssignableToTypeOf(sendErr))
		sendErr = err.(*lifecycle.SendError)
		Expect(sendErr.Draft.Content).To(Equal("orphan draft"))
	})

	It("follows an analysis run to completion over the wire", func() {
		terminal := make(chan types.VoiceState, 1)
		refreshed := make(chan struct{}, 1)
		coord := newCoordinator(progress.Hooks{
			OnTerminal:           func(outcome types.VoiceState) { terminal <- outcome },
			OnRefreshSuggestions: func() { refreshed <- struct{}{} },
		})
		defer coord.Close()

		resp, err := client.Post(ctx, "/run", map[string]any{
			"reviewID": "review-sync",
			"provider": "anthropic",
			"model":    "claude",
			"levels": []types.LevelConfig{
				{Level: 1, Voices: []types.VoiceConfig{
					{Provider: "anthropic", Model: "claude"},
				}},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var run types.Run
		Expect(resp.JSON(&run)).To(Succeed())

		tracker := coord.WatchRun(&run)
		Expect(tracker.LevelState(1)).To(Equal(types.VoicePending))

		// Let the analysis SSE subscription land before driving updates.
		time.Sleep(300 * time.Millisecond)

		resp, err = client.Post(ctx, "/run/"+run.ID+"/level/1", types.LevelUpdate{Status: "running"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		Eventually(func() types.VoiceState {
			return tracker.LevelState(1)
		}, 10*time.Second, 50*time.Millisecond).Should(Equal(types.VoiceRunning))

		resp, err = client.Post(ctx, "/run/"+run.ID+"/outcome", map[string]string{"outcome": "completed"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		Eventually(terminal, 10*time.Second).Should(Receive(Equal(types.VoiceCompleted)))
		Eventually(refreshed, 5*time.Second).Should(Receive())
		Expect(tracker.LevelState(1)).To(Equal(types.VoiceCompleted))
	})

	It("resolves a cancelled run as cancelled without refreshing suggestions", func() {
		terminal := make(chan types.VoiceState, 1)
		refreshed := make(chan struct{}, 1)
		coord := newCoordinator(progress.Hooks{
			OnTerminal:           func(outcome types.VoiceState) { terminal <- outcome },
			OnRefreshSuggestions: func() { refreshed <- struct{}{} },
		})
		defer coord.Close()

		resp, err := client.Post(ctx, "/run", map[string]any{
			"reviewID": "review-sync",
			"provider": "anthropic",
			"model":    "claude",
			"levels": []types.LevelConfig{
				{Level: 1, Voices: []types.VoiceConfig{
					{Provider: "anthropic", Model: "claude"},
				}},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var run types.Run
		Expect(resp.JSON(&run)).To(Succeed())

		tracker := coord.WatchRun(&run)
		time.Sleep(300 * time.Millisecond)

		resp, err = client.Post(ctx, "/run/"+run.ID+"/level/1", types.LevelUpdate{Status: "running"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		Eventually(func() types.VoiceState {
			return tracker.LevelState(1)
		}, 10*time.Second, 50*time.Millisecond).Should(Equal(types.VoiceRunning))

		resp, err = client.Post(ctx, "/run/"+run.ID+"/outcome", map[string]string{"outcome": "cancelled"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		Eventually(terminal, 10*time.Second).Should(Receive(Equal(types.VoiceCancelled)))
		Expect(tracker.LevelState(1)).To(Equal(types.VoiceCancelled))
		Consistently(refreshed, 500*time.Millisecond).ShouldNot(Receive())
	})
})
