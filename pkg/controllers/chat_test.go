package controllers_test

import (
	"context"
	"errors"
	"time"

	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/channel"
	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/controllers"
	"github.com/killallgit/atelier/pkg/process"
	"github.com/killallgit/atelier/pkg/session"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
)

var _ = Describe("ChatController", func() {
	var h *harness

	AfterEach(func() {
		h.stop()
	})

	Describe("Bootstrap", func() {
		BeforeEach(func() {
			h = newHarness(false)
		})

		It("should prefer an owned link marker over the durable record", func() {
			Expect(h.record.Set(context.Background(), session.RecordKey("42"), "5")).To(Succeed())
			h.start("/app?p=7")

			Expect(h.ctrl.ActiveProject()).To(Equal("7"))
			Expect(h.ctrl.User().Username).To(Equal("ada"))
			Expect(h.ctrl.Projects()).To(HaveLen(2))
		})

		It("should use the record when the marker is absent", func() {
			Expect(h.record.Set(context.Background(), session.RecordKey("42"), "7")).To(Succeed())
			h.start("/app")

			Expect(h.ctrl.ActiveProject()).To(Equal("7"))
			h.persistence.Flush()
			marker, ok := h.location.Marker()
			Expect(ok).To(BeTrue())
			Expect(marker).To(Equal("7"))
		})

		It("should open the first project when nothing is remembered", func() {
			h.start("/app?p=99")

			Expect(h.ctrl.ActiveProject()).To(Equal("5"))
			h.persistence.Flush()
			v, err := h.record.Get(context.Background(), session.RecordKey("42"))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("5"))
		})

		It("should report a failed sign in", func() {
			h.backend.On("Me").Return(nil, api.ErrUnauthorized)
			h.location, _ = session.ParseLocation("")
			h.opts.Persistence = session.NewPersistence(h.record, h.location)
			h.ctrl = controllers.NewChatController(h.opts)

			err := h.ctrl.Bootstrap(context.Background())
			Expect(err).To(MatchError(api.ErrUnauthorized))
			Expect(h.ctrl.Send("hello")).To(BeFalse())
		})
	})

	Describe("sending over the fallback", func() {
		BeforeEach(func() {
			h = newHarness(false)
		})

		It("should show a placeholder, then reveal the reply under its durable id", func() {
			gate := make(chan time.Time)
			h.backend.On("Chat", "5", "warmer bedroom").WaitUntil(gate).Return(chatReply("900", "Try warm oak and linen"), nil).Once()
			h.start("")

			h.ctrl.SetComposer("warmer bedroom")
			Expect(h.ctrl.Submit()).To(BeTrue())
			Expect(h.ctrl.Composer()).To(BeEmpty())

			msgs := h.ctrl.Messages()
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Role).To(Equal(chat.RoleUser))
			Expect(msgs[1].Status).To(Equal(chat.StatusPending))
			Expect(msgs[1].Content).To(Equal(chat.ThinkingContent))
			Expect(msgs[1].RetryText).To(Equal("warmer bedroom"))
			Expect(h.ctrl.Sending()).To(BeTrue())
			Expect(h.ctrl.Status().Phase).To(Equal(process.StateSent))

			close(gate)

			Eventually(h.message(1)).Should(And(
				HaveField("ID", chat.DurableID("900")),
				HaveField("Status", chat.StatusFinal),
				HaveField("Content", "Try warm oak and linen"),
			))
			msg := h.message(1)()
			Expect(msg.Metadata).NotTo(BeNil())
			Expect(msg.Metadata.DesignOptions).To(HaveLen(2))
			Expect(msg.Metadata.VersionID).To(Equal("3"))
			Expect(h.ctrl.Sending()).To(BeFalse())

			p, ok := h.ctrl.Preview("5")
			Expect(ok).To(BeTrue())
			Expect(p.Content).To(Equal("Try warm oak and linen"))
			Eventually(h.replies).Should(ContainElement(HaveField("Content", "Try warm oak and linen")))
		})

		It("should show the reply in the preview when the backend clock lags", func() {
			reply := chatReply("905", "Linen curtains and a wool rug")
			reply.CreatedAt = time.Now().Add(-5 * time.Second)
			h.backend.On("Chat", "5", "warmer bedroom").Return(reply, nil).Once()
			h.start("")

			Expect(h.ctrl.Send("warmer bedroom")).To(BeTrue())
			Eventually(h.ctrl.Sending).Should(BeFalse())

			p, ok := h.ctrl.Preview("5")
			Expect(ok).To(BeTrue())
			Expect(p.Role).To(Equal(chat.RoleAssistant))
			Expect(p.Content).To(Equal("Linen curtains and a wool rug"))
		})

		It("should ignore blank text and a second send while one is pending", func() {
			gate := make(chan time.Time)
			h.backend.On("Chat", "5", "first").WaitUntil(gate).Return(chatReply("900", "ok"), nil).Once()
			h.start("")

			Expect(h.ctrl.Send("   ")).To(BeFalse())
			Expect(h.ctrl.Send("first")).To(BeTrue())
			Expect(h.ctrl.Send("second")).To(BeFalse())
			Expect(h.ctrl.Messages()).To(HaveLen(2))

			close(gate)
			Eventually(h.ctrl.Sending).Should(BeFalse())
			Expect(h.backend.sentTexts()).To(Equal([]string{"first"}))
		})

		It("should fail a transport error into a retryable placeholder", func() {
			h.backend.On("Chat", "5", "warmer bedroom").Return(nil, errors.New("503")).Once()
			h.start("")

			Expect(h.ctrl.Send("warmer bedroom")).To(BeTrue())

			Eventually(h.message(1)).Should(HaveField("Status", chat.StatusErrored))
			msg := h.message(1)()
			Expect(msg.Content).To(Equal(chat.FailedContent))
			Expect(msg.RetryText).To(Equal("warmer bedroom"))
			Expect(msg.Retryable()).To(BeTrue())
			Expect(h.ctrl.Notice()).NotTo(BeEmpty())
			Expect(h.ctrl.Sending()).To(BeFalse())
			Expect(h.ctrl.Status().Phase).To(Equal(process.StateFailed))
		})

		It("should retry on the same placeholder without adding a user message", func() {
			h.backend.On("Chat", "5", "warmer bedroom").Return(nil, errors.New("503")).Once()
			h.backend.On("Chat", "5", "warmer bedroom").Return(chatReply("901", "Here it is"), nil).Once()
			h.start("")

			Expect(h.ctrl.Send("warmer bedroom")).To(BeTrue())
			Eventually(h.message(1)).Should(HaveField("Status", chat.StatusErrored))
			placeholder := h.message(1)().ID

			Expect(h.ctrl.Retry(h.message(0)().ID)).To(BeFalse())
			Expect(placeholder.IsLocal()).To(BeTrue())
			Expect(h.ctrl.Retry(placeholder)).To(BeTrue())

			Eventually(h.message(1)).Should(HaveField("Content", "Here it is"))
			msgs := h.ctrl.Messages()
			Expect(msgs).To(HaveLen(2))
			Expect(countRole(msgs, chat.RoleUser)).To(Equal(1))
			Expect(msgs[1].ID).To(Equal(chat.DurableID("901")))
			Expect(h.backend.sentTexts()).To(Equal([]string{"warmer bedroom", "warmer bedroom"}))
		})

		It("should keep user messages equal to successful sends", func() {
			h.backend.On("Chat", "5", "one").Return(chatReply("1001", "a"), nil).Once()
			h.backend.On("Chat", "5", "two").Return(nil, errors.New("boom")).Once()
			h.backend.On("Chat", "5", "two").Return(chatReply("1002", "b"), nil).Once()
			h.backend.On("Chat", "5", "three").Return(chatReply("1003", "c"), nil).Once()
			h.start("")

			Expect(h.ctrl.Send("one")).To(BeTrue())
			Eventually(h.ctrl.Sending).Should(BeFalse())
			Expect(h.ctrl.Send("two")).To(BeTrue())
			Eventually(h.message(3)).Should(HaveField("Status", chat.StatusErrored))
			Expect(h.ctrl.Retry(h.message(3)().ID)).To(BeTrue())
			Eventually(h.message(3)).Should(HaveField("Status", chat.StatusFinal))
			Expect(h.ctrl.Send("three")).To(BeTrue())
			Eventually(h.message(5)).Should(HaveField("Content", "c"))

			msgs := h.ctrl.Messages()
			Expect(countRole(msgs, chat.RoleUser)).To(Equal(3))
			Expect(countRole(msgs, chat.RoleAssistant)).To(Equal(3))
		})

		It("should move a placeholder from pending to exactly one terminal state", func() {
			h.backend.On("Chat", "5", "hello").Return(chatReply("900", "hi there friend"), nil).Once()
			h.start("")

			Expect(h.ctrl.Send("hello")).To(BeTrue())
			Eventually(h.message(1)).Should(HaveField("Content", "hi there friend"))

			statuses := h.assistantStatuses()
			Expect(statuses[0]).To(Equal(chat.StatusPending))
			Expect(statuses[1:]).NotTo(BeEmpty())
			for _, s := range statuses[1:] {
				Expect(s).To(Equal(chat.StatusFinal))
			}
		})

		It("should auto-dismiss notices", func() {
			h.opts.NoticeDismissAfter = 30 * time.Millisecond
			h.backend.On("Chat", "5", "hello").Return(nil, errors.New("503")).Once()
			h.start("")

			h.ctrl.Send("hello")
			Eventually(h.ctrl.Notice).ShouldNot(BeEmpty())
			Eventually(h.ctrl.Notice).Should(BeEmpty())
		})
	})

	Describe("sending over the push channel", func() {
		BeforeEach(func() {
			h = newHarness(true)
		})

		It("should publish the turn and resolve from the pushed reply", func() {
			h.start("")
			conn := h.waitOpen()

			Expect(h.ctrl.Send("cosier lounge")).To(BeTrue())
			placeholder := h.message(1)().ID
			Eventually(conn.frames).Should(HaveLen(1))
			frame := conn.frames()[0]
			Expect(frame.Type).To(Equal(channel.FrameUserMessage))
			Expect(frame.ProjectID).To(Equal(api.ID("5")))
			Expect(frame.ClientID).To(Equal(placeholder.String()))

			conn.reply(frame.ClientID, "950", "Layer rugs and lamps")
			Eventually(h.message(1)).Should(And(
				HaveField("ID", chat.DurableID("950")),
				HaveField("Content", "Layer rugs and lamps"),
			))
			Expect(h.ctrl.Sending()).To(BeFalse())
			h.backend.AssertNotCalled(GinkgoT(), "Chat", mock.Anything, mock.Anything)
		})

		It("should drop a duplicate pushed reply for a settled turn", func() {
			h.start("")
			conn := h.waitOpen()

			h.ctrl.Send("hello")
			Eventually(conn.frames).Should(HaveLen(1))
			clientID := conn.frames()[0].ClientID

			conn.reply(clientID, "950", "once")
			Eventually(h.ctrl.Sending).Should(BeFalse())
			conn.reply(clientID, "950", "once")
			conn.reply("", "950", "once")

			Consistently(func() int { return len(h.ctrl.Messages()) }, 50*time.Millisecond).Should(Equal(2))
		})

		It("should match an uncorrelated reply to the oldest pending push turn", func() {
			h.start("")
			conn := h.waitOpen()

			h.ctrl.Send("hello")
			Eventually(conn.frames).Should(HaveLen(1))
			Eventually(h.ctrl.Status).Should(HaveField("Phase", process.StateSent))

			conn.reply("", "951", "matched anyway")
			Eventually(h.message(1)).Should(HaveField("ID", chat.DurableID("951")))
			Expect(h.ctrl.Messages()).To(HaveLen(2))
		})

		It("should append a reply that belongs to no turn", func() {
			h.start("")
			conn := h.waitOpen()

			conn.reply("", "960", "A note from your designer")
			Eventually(h.ctrl.Messages).Should(HaveLen(1))
			Expect(h.message(0)().ID).To(Equal(chat.DurableID("960")))
			Eventually(h.replies).Should(HaveLen(1))

			p, ok := h.ctrl.Preview("5")
			Expect(ok).To(BeTrue())
			Expect(p.Content).To(Equal("A note from your designer"))
		})

		It("should fall back exactly once when the publish fails", func() {
			h.backend.On("Chat", "5", "hello").Return(chatReply("970", "via fallback"), nil).Once()
			h.start("")
			conn := h.waitOpen()
			conn.mu.Lock()
			conn.writeErr = errors.New("broken pipe")
			conn.mu.Unlock()

			h.ctrl.Send("hello")
			Eventually(h.message(1)).Should(HaveField("Content", "via fallback"))
			Expect(h.ctrl.ChannelState()).To(Equal(channel.StateClosed))
			Expect(h.backend.sentTexts()).To(HaveLen(1))

			conn.push(channel.Frame{Type: channel.FrameAssistantMessage, MessageID: "971", Content: "late copy"})
			Consistently(h.ctrl.Messages, 50*time.Millisecond).Should(HaveLen(2))
			Expect(h.message(1)().Content).To(Equal("via fallback"))
		})

		It("should fail the pending turn on an inbound error frame", func() {
			h.start("")
			conn := h.waitOpen()

			h.ctrl.Send("hello")
			Eventually(conn.frames).Should(HaveLen(1))
			Eventually(h.ctrl.Status).Should(HaveField("Phase", process.StateSent))
			conn.push(channel.Frame{Type: channel.FrameError, Detail: "model overloaded"})

			Eventually(h.message(1)).Should(HaveField("Status", chat.StatusErrored))
			Expect(h.ctrl.Sending()).To(BeFalse())
			Expect(h.message(1)().RetryText).To(Equal("hello"))
		})

		It("should fail a pushed turn that gets no reply in time", func() {
			h.opts.ReplyTimeout = 30 * time.Millisecond
			h.start("")
			h.waitOpen()

			h.ctrl.Send("hello")
			Eventually(h.message(1)).Should(HaveField("Status", chat.StatusErrored))
			Expect(h.ctrl.Sending()).To(BeFalse())
		})

		It("should fail pushed turns when the channel closes", func() {
			h.start("")
			conn := h.waitOpen()

			h.ctrl.Send("hello")
			Eventually(conn.frames).Should(HaveLen(1))
			Eventually(h.ctrl.Status).Should(HaveField("Phase", process.StateSent))
			conn.Close()

			Eventually(h.ctrl.ChannelState).Should(Equal(channel.StateClosed))
			Eventually(h.message(1)).Should(HaveField("Status", chat.StatusErrored))
		})

		It("should stay on the fallback when the push channel cannot open", func() {
			h.dialer.err = errors.New("refused")
			h.backend.On("Chat", "5", "hello").Return(chatReply("980", "fallback works"), nil).Once()
			h.start("")

			Eventually(h.ctrl.ChannelState).Should(Equal(channel.StateClosed))
			h.ctrl.Send("hello")
			Eventually(h.message(1)).Should(HaveField("Content", "fallback works"))
		})
	})

	Describe("switching projects", func() {
		It("should never let the old channel touch the new timeline", func() {
			h = newHarness(true)
			h.start("")
			connA := h.waitOpen()

			h.ctrl.Send("for project five")
			Eventually(connA.frames).Should(HaveLen(1))
			clientID := connA.frames()[0].ClientID

			Expect(h.ctrl.SelectProject("7")).To(Succeed())
			h.waitOpen()
			Eventually(h.ctrl.LoadingHistory).Should(BeFalse())
			connA.reply(clientID, "990", "late answer for five")

			Consistently(h.ctrl.Messages, 50*time.Millisecond).Should(BeEmpty())
			Expect(h.ctrl.ActiveProject()).To(Equal("7"))
			Expect(h.ctrl.Send("now for seven")).To(BeTrue())
		})

		It("should release a pushed turn left behind by a switch", func() {
			h = newHarness(true)
			h.start("")
			connA := h.waitOpen()

			h.ctrl.Send("for project five")
			Eventually(connA.frames).Should(HaveLen(1))
			Expect(h.ctrl.Sending()).To(BeTrue())

			Expect(h.ctrl.SelectProject("7")).To(Succeed())
			Expect(h.ctrl.SelectProject("5")).To(Succeed())
			h.waitOpen()
			Eventually(h.ctrl.LoadingHistory).Should(BeFalse())

			Expect(h.ctrl.Sending()).To(BeFalse())
			Expect(h.ctrl.Send("five again")).To(BeTrue())
		})

		It("should still update the old project's preview from a late fallback reply", func() {
			h = newHarness(false)
			gate := make(chan time.Time)
			h.backend.On("Chat", "5", "slow question").WaitUntil(gate).Return(chatReply("995", "slow answer"), nil).Once()
			h.start("")

			Expect(h.ctrl.Send("slow question")).To(BeTrue())
			Expect(h.ctrl.SelectProject("7")).To(Succeed())
			Eventually(h.ctrl.LoadingHistory).Should(BeFalse())
			close(gate)

			Eventually(func() string {
				p, _ := h.ctrl.Preview("5")
				return p.Content
			}).Should(Equal("slow answer"))
			Expect(h.ctrl.Messages()).To(BeEmpty())
			Expect(h.ctrl.Sending()).To(BeFalse())
		})

		It("should reject a project the user does not own", func() {
			h = newHarness(false)
			h.start("")

			Expect(h.ctrl.SelectProject("99")).To(MatchError(controllers.ErrUnknownProject))
			Expect(h.ctrl.ActiveProject()).To(Equal("5"))
		})

		It("should remember the switch in the record and the marker", func() {
			h = newHarness(false)
			h.start("")

			Expect(h.ctrl.SelectProject("7")).To(Succeed())
			h.persistence.Flush()

			v, err := h.record.Get(context.Background(), session.RecordKey("42"))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("7"))
			Expect(h.ctrl.Status().Link).To(Equal("/app?p=7"))
		})
	})

	Describe("history", func() {
		BeforeEach(func() {
			h = newHarness(false)
		})

		It("should seed the timeline and hold input while loading", func() {
			gate := make(chan time.Time)
			h.backend.On("History", "7").WaitUntil(gate).Return([]api.Message{
				{ID: "1", Role: "user", Content: "desk ideas", CreatedAt: time.Now()},
				{ID: "2", Role: "assistant", Content: "Try a standing desk", CreatedAt: time.Now()},
			}, nil).Once()
			h.start("")

			Expect(h.ctrl.SelectProject("7")).To(Succeed())
			Expect(h.ctrl.LoadingHistory()).To(BeTrue())
			Expect(h.ctrl.Send("too early")).To(BeFalse())

			close(gate)
			Eventually(h.ctrl.Messages).Should(HaveLen(2))
			Expect(h.message(1)().ID).To(Equal(chat.DurableID("2")))
			p, _ := h.ctrl.Preview("7")
			Expect(p.Content).To(Equal("Try a standing desk"))
		})

		It("should raise a notice when history cannot load", func() {
			h.backend.On("History", "7").Return(nil, errors.New("500")).Once()
			h.start("")

			Expect(h.ctrl.SelectProject("7")).To(Succeed())
			Eventually(h.ctrl.Notice).Should(ContainSubstring("history"))
			Expect(h.ctrl.LoadingHistory()).To(BeFalse())
		})
	})

	Describe("design actions", func() {
		BeforeEach(func() {
			h = newHarness(false)
			h.backend.On("Chat", "5", "show me options").Return(chatReply("900", "Two directions"), nil).Once()
		})

		It("should record a select event and ask for the option", func() {
			h.backend.On("Chat", "5", "Let's go with option 2: Deep botanical").Return(chatReply("901", "Great pick"), nil).Once()
			h.start("")
			h.ctrl.Send("show me options")
			Eventually(h.message(1)).Should(HaveField("Status", chat.StatusFinal))

			Expect(h.ctrl.SelectOption(h.message(1)().ID, 5)).To(BeFalse())
			Expect(h.ctrl.SelectOption(h.message(1)().ID, 1)).To(BeTrue())

			Eventually(h.backend.recorded).Should(HaveLen(1))
			ev := h.backend.recorded()[0]
			Expect(ev.EventType).To(Equal(api.FeedbackSelect))
			Expect(ev.Payload["selected_option_index"]).To(Equal(2))
			Expect(*ev.DesignVersion).To(Equal(api.ID("3")))
			Eventually(h.message(3)).Should(HaveField("Content", "Great pick"))
			Expect(h.message(2)().Content).To(Equal("Let's go with option 2: Deep botanical"))
		})

		It("should save the design, mark the reply and continue the conversation", func() {
			h.backend.On("SaveVersion", "5", mock.Anything).Return(&api.Version{ID: "31", VersionNumber: 2}, nil).Once()
			h.backend.On("Chat", "5", "I saved this design as version 2.").Return(chatReply("902", "Saved!"), nil).Once()
			h.start("")
			h.ctrl.Send("show me options")
			Eventually(h.message(1)).Should(HaveField("Status", chat.StatusFinal))

			Expect(h.ctrl.SaveDesign()).To(BeTrue())

			Eventually(h.message(3)).Should(HaveField("Content", "Saved!"))
			saved := h.message(1)()
			Expect(saved.Metadata.Saved).To(BeTrue())
			Expect(saved.Metadata.VersionID).To(Equal("31"))
			Eventually(h.backend.recorded).Should(ContainElement(HaveField("EventType", api.FeedbackSave)))
		})

		It("should keep optimistic state when feedback fails", func() {
			h.backend.On("RecordFeedback", mock.Anything).Return(errors.New("500")).Once()
			h.backend.On("Chat", "5", "Let's go with option 1: Warm minimal").Return(chatReply("903", "ok"), nil).Once()
			h.start("")
			h.ctrl.Send("show me options")
			Eventually(h.message(1)).Should(HaveField("Status", chat.StatusFinal))

			Expect(h.ctrl.SelectOption(h.message(1)().ID, 0)).To(BeTrue())
			Eventually(h.ctrl.Notice).Should(ContainSubstring("feedback"))
			Eventually(h.message(3)).Should(HaveField("Content", "ok"))
		})

		It("should not save without a resolved reply", func() {
			h.start("")
			Expect(h.ctrl.SaveDesign()).To(BeFalse())
		})
	})

	Describe("projects and logout", func() {
		BeforeEach(func() {
			h = newHarness(false)
		})

		It("should select a newly created project", func() {
			h.backend.On("CreateProject", api.NewProject{User: "42", Title: "Nursery", RoomType: "bedroom"}).
				Return(&api.Project{ID: "12", User: "42", Title: "Nursery", RoomType: "bedroom"}, nil).Once()
			h.start("")

			p, err := h.ctrl.CreateProject(context.Background(), "Nursery", "bedroom")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.ID).To(Equal(api.ID("12")))
			Expect(h.ctrl.ActiveProject()).To(Equal("12"))
			Expect(h.ctrl.Projects()).To(HaveLen(3))
		})

		It("should clear the session and the record but keep the marker", func() {
			h.backend.On("Logout").Return(nil).Once()
			h.start("")
			h.persistence.Flush()

			Expect(h.ctrl.Logout(context.Background())).To(Succeed())

			_, err := h.record.Get(context.Background(), session.RecordKey("42"))
			Expect(err).To(MatchError(session.ErrNotFound))
			_, ok := h.location.Marker()
			Expect(ok).To(BeTrue())
			Expect(h.ctrl.ActiveProject()).To(BeEmpty())
			Expect(h.ctrl.Previews()).To(BeEmpty())
			Expect(h.ctrl.Send("hello")).To(BeFalse())
		})
	})
})
