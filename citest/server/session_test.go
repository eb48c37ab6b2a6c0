package server_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

var _ = Describe("Session API", func() {
	Describe("POST /session", func() {
		It("creates a session for a review", func() {
			resp, err := client.Post(ctx, "/session", map[string]string{
				"reviewID": "review-e2e",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var sess types.Session
			Expect(resp.JSON(&sess)).To(Succeed())
			Expect(sess.ID).NotTo(BeEmpty())
			Expect(sess.ReviewID).To(Equal("review-e2e"))
		})

		It("rejects a missing reviewID", func() {
			resp, err := client.Post(ctx, "/session", map[string]string{})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(resp.ErrorCode()).To(Equal("INVALID_REQUEST"))
		})
	})

	Describe("POST /session/{id}/message", func() {
		It("accepts the turn and streams the reply over /event/chat", func() {
			resp, err := client.Post(ctx, "/session", map[string]string{
				"reviewID": "review-e2e",
			})
			Expect(err).NotTo(HaveOccurred())
			var sess types.Session
			Expect(resp.JSON(&sess)).To(Succeed())

			sse := testServer.SSEClient()
			Expect(sse.Connect(ctx, "/event/chat")).To(Succeed())
			defer sse.Close()

			handshake, err := sse.Next(5 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(handshake.Type).To(Equal(types.EventConnected))
			Expect(handshake.SessionID).To(BeEmpty())

			resp, err = client.Post(ctx, "/session/"+sess.ID+"/message", map[string]string{
				"content": "please review this diff",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			text, err := sse.CollectText(sess.ID, 10*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("assistant reply for: please review this diff"))
		})

		It("answers 410 SESSION_GONE for an expired session", func() {
			resp, err := client.Post(ctx, "/session", map[string]string{
				"reviewID": "review-e2e",
			})
			Expect(err).NotTo(HaveOccurred())
			var sess types.Session
			Expect(resp.JSON(&sess)).To(Succeed())

			testServer.Server.Sessions().Expire(sess.ID)

			resp, err = client.Post(ctx, "/session/"+sess.ID+"/message", map[string]string{
				"content": "anyone there?",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusGone))
			Expect(resp.ErrorCode()).To(Equal("SESSION_GONE"))
		})

		It("answers 410 for a session that never existed", func() {
			resp, err := client.Post(ctx, "/session/not-a-session/message", map[string]string{
				"content": "hello",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusGone))
		})
	})

	Describe("GET /session/{id}/message", func() {
		It("returns the persisted history after a turn", func() {
			resp, err := client.Post(ctx, "/session", map[string]string{
				"reviewID": "review-e2e",
			})
			Expect(err).NotTo(HaveOccurred())
			var sess types.Session
			Expect(resp.JSON(&sess)).To(Succeed())

			resp, err = client.Post(ctx, "/session/"+sess.ID+"/message", map[string]string{
				"content": "history check",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			Eventually(func() int {
				resp, err := client.Get(ctx, "/session/"+sess.ID+"/message")
				if err != nil {
					return 0
				}
				var messages []types.Message
				if err := resp.JSON(&messages); err != nil {
					return 0
				}
				return len(messages)
			}, 10*time.Second, 100*time.Millisecond).Should(Equal(2))

			resp, err = client.Get(ctx, "/session/"+sess.ID+"/message")
			Expect(err).NotTo(HaveOccurred())
			var messages []types.Message
			Expect(resp.JSON(&messages)).To(Succeed())
			Expect(messages[0].Role).To(Equal(types.RoleUser))
			Expect(messages[0].Content).To(Equal("history check"))
			Expect(messages[1].Role).To(Equal(types.RoleAssistant))
		})
	})

	Describe("POST /session/{id}/abort", func() {
		It("always succeeds, even for idle sessions", func() {
			resp, err := client.Post(ctx, "/session/whatever/abort", struct{}{})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
