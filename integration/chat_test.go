package integration

import (
	"context"
	"path/filepath"
	"time"

	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/channel"
	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/controllers"
	"github.com/killallgit/atelier/pkg/session"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Chat against the stub backend", func() {
	var (
		b       *backend
		bedroom api.Project
		office  api.Project
		ctrl    *controllers.ChatController
	)

	BeforeEach(func() {
		b = startBackend()
		bedroom = b.stub.AddProject("1", "Bedroom refresh", "bedroom")
		office = b.stub.AddProject("1", "Home office", "office")
	})

	AfterEach(func() {
		if ctrl != nil {
			ctrl.Close()
			ctrl = nil
		}
		b.close()
	})

	Context("with the push channel", func() {
		BeforeEach(func() {
			ctrl = b.client("", nil, true)
			Eventually(ctrl.ChannelState).Should(Equal(channel.StateOpen))
		})

		It("should resolve a turn over the socket", func() {
			Expect(ctrl.ActiveProject()).To(Equal(bedroom.ID.String()))
			Expect(ctrl.Send("make it cosy")).To(BeTrue())

			Eventually(settled(ctrl)).Should(BeTrue())
			replies := assistants(ctrl)()
			Expect(replies).To(HaveLen(1))
			Expect(replies[0].Status).To(Equal(chat.StatusFinal))
			Expect(replies[0].ID.IsDurable()).To(BeTrue())
			Expect(replies[0].Content).To(ContainSubstring("make it cosy"))
			Expect(replies[0].Metadata.DesignOptions).To(HaveLen(3))

			Expect(b.stub.PushTurns()).To(Equal(1))
			Expect(b.stub.ChatCalls()).To(BeZero())
		})

		It("should show a duplicated reply once", func() {
			b.stub.DuplicatePush(true)

			Expect(ctrl.Send("hello")).To(BeTrue())
			Eventually(settled(ctrl)).Should(BeTrue())
			Consistently(func() int { return len(ctrl.Messages()) }, 100*time.Millisecond).Should(Equal(2))
		})

		It("should match a reply without client id to the pending turn", func() {
			b.stub.OmitClientID(true)

			Expect(ctrl.Send("hello")).To(BeTrue())
			Eventually(settled(ctrl)).Should(BeTrue())
			Expect(assistants(ctrl)()).To(HaveLen(1))
			Expect(assistants(ctrl)()[0].Status).To(Equal(chat.StatusFinal))
		})

		It("should fail a turn the backend rejects and recover on retry", func() {
			b.stub.HoldPush(true)
			Expect(ctrl.Send("paint it red")).To(BeTrue())
			Eventually(b.stub.PushTurns).Should(Equal(1))

			Expect(b.stub.FailHeldPush("overloaded")).To(Equal(1))
			Eventually(func() chat.Status { return assistants(ctrl)()[0].Status }).Should(Equal(chat.StatusErrored))
			Expect(ctrl.Notice()).NotTo(BeEmpty())

			b.stub.HoldPush(false)
			failed := assistants(ctrl)()[0].ID
			Expect(ctrl.Retry(failed)).To(BeTrue())
			Eventually(settled(ctrl)).Should(BeTrue())
			Expect(assistants(ctrl)()).To(HaveLen(1))
			Expect(assistants(ctrl)()[0].Status).To(Equal(chat.StatusFinal))
		})

		It("should fail pending turns when the socket drops and send later turns over HTTP", func() {
			b.stub.HoldPush(true)
			Expect(ctrl.Send("first")).To(BeTrue())
			Eventually(b.stub.PushTurns).Should(Equal(1))

			b.stub.DropSockets()
			Eventually(func() chat.Status { return assistants(ctrl)()[0].Status }).Should(Equal(chat.StatusErrored))
			Eventually(ctrl.ChannelState).Should(Equal(channel.StateClosed))

			Expect(ctrl.Send("second")).To(BeTrue())
			Eventually(settled(ctrl)).Should(BeTrue())
			Expect(b.stub.ChatCalls()).To(Equal(1))
			Expect(assistants(ctrl)()[1].Status).To(Equal(chat.StatusFinal))
		})

		It("should append a reply pushed without a pending turn", func() {
			n := b.stub.Broadcast(bedroom.ID, channel.Frame{
				Type:      channel.FrameAssistantMessage,
				MessageID: "777",
				Content:   "A note from your designer",
			})
			Expect(n).To(Equal(1))

			Eventually(assistants(ctrl)).Should(HaveLen(1))
			Expect(assistants(ctrl)()[0].ID).To(Equal(chat.DurableID("777")))
			Eventually(func() string {
				p, _ := ctrl.Preview(bedroom.ID.String())
				return p.Content
			}).Should(Equal("A note from your designer"))
		})

		It("should reopen the channel for the project switched to", func() {
			Expect(ctrl.SelectProject(office.ID.String())).To(Succeed())
			Eventually(ctrl.ChannelState).Should(Equal(channel.StateOpen))
			Eventually(ctrl.LoadingHistory).Should(BeFalse())

			Expect(ctrl.Send("standing desk")).To(BeTrue())
			Eventually(settled(ctrl)).Should(BeTrue())
			Expect(b.stub.Messages(office.ID)).To(HaveLen(2))
			Expect(b.stub.Messages(bedroom.ID)).To(BeEmpty())
		})
	})

	Context("without the push channel", func() {
		It("should send every turn over HTTP and save the design", func() {
			ctrl = b.client("", nil, false)

			Expect(ctrl.Send("sage walls")).To(BeTrue())
			Eventually(settled(ctrl)).Should(BeTrue())
			Expect(b.stub.ChatCalls()).To(Equal(1))

			reply := assistants(ctrl)()[0]
			Expect(ctrl.SelectOption(reply.ID, 0)).To(BeTrue())
			Eventually(settled(ctrl)).Should(BeTrue())
			Eventually(b.stub.Feedback).Should(HaveLen(1))
			Expect(b.stub.Feedback()[0].EventType).To(Equal(api.FeedbackSelect))

			Expect(ctrl.SaveDesign()).To(BeTrue())
			Eventually(func() []api.Version { return b.stub.Versions(bedroom.ID) }).Should(HaveLen(1))
			Eventually(b.stub.Feedback).Should(HaveLen(2))
		})

		It("should load history for the restored project", func() {
			b.stub.AddMessage(office.ID, "user", "big desk")
			b.stub.AddMessage(office.ID, "assistant", "Try a corner layout")

			ctrl = b.client("/app?p="+office.ID.String(), nil, false)
			Expect(ctrl.ActiveProject()).To(Equal(office.ID.String()))

			msgs := ctrl.Messages()
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[1].Content).To(Equal("Try a corner layout"))
		})
	})

	Context("across restarts", func() {
		It("should reopen the last project from the record file", func() {
			record := session.NewFileRecord(filepath.Join(GinkgoT().TempDir(), "session.json"))

			ctrl = b.client("", record, false)
			Expect(ctrl.SelectProject(office.ID.String())).To(Succeed())
			ctrl.Close()

			ctrl = b.client("", record, false)
			Expect(ctrl.ActiveProject()).To(Equal(office.ID.String()))
		})

		It("should forget the project after logout", func() {
			record := session.NewMemoryRecord()

			ctrl = b.client("", record, false)
			Expect(ctrl.SelectProject(office.ID.String())).To(Succeed())
			Expect(ctrl.Logout(context.Background())).To(Succeed())
			ctrl.Close()

			ctrl = b.client("", record, false)
			Expect(ctrl.ActiveProject()).To(Equal(bedroom.ID.String()))
		})
	})
})
