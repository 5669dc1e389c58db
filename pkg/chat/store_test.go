package chat_test

import (
	"time"

	"github.com/killallgit/atelier/pkg/chat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Store", func() {
	var store *chat.Store

	BeforeEach(func() {
		store = chat.NewStore("7")
	})

	Describe("Append", func() {
		It("should keep insertion order", func() {
			first := chat.NewUserMessage("one")
			second := chat.NewPlaceholder("one")

			Expect(store.Append(first)).To(BeTrue())
			Expect(store.Append(second)).To(BeTrue())

			list := store.List()
			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal(first.ID))
			Expect(list[1].ID).To(Equal(second.ID))
		})

		It("should reject a message that is already present", func() {
			msg := chat.NewUserMessage("hello")

			Expect(store.Append(msg)).To(BeTrue())
			Expect(store.Append(msg)).To(BeFalse())
			Expect(store.Len()).To(Equal(1))
		})

		It("should assign a local id when none is set", func() {
			Expect(store.Append(chat.Message{Role: chat.RoleUser, Content: "x"})).To(BeTrue())

			last, ok := store.Last()
			Expect(ok).To(BeTrue())
			Expect(last.ID.IsLocal()).To(BeTrue())
		})
	})

	Describe("Replace", func() {
		It("should mutate the slot in place", func() {
			user := chat.NewUserMessage("hi")
			placeholder := chat.NewPlaceholder("hi")
			store.Append(user)
			store.Append(placeholder)

			ok := store.Replace(placeholder.ID, func(m *chat.Message) {
				m.Content = "Hello!"
				m.Status = chat.StatusFinal
			})

			Expect(ok).To(BeTrue())
			Expect(store.Len()).To(Equal(2))
			got, _ := store.Get(placeholder.ID)
			Expect(got.Content).To(Equal("Hello!"))
			Expect(got.Status).To(Equal(chat.StatusFinal))
		})

		It("should re-key a local slot to its durable id", func() {
			store.Append(chat.NewUserMessage("hi"))
			placeholder := chat.NewPlaceholder("hi")
			store.Append(placeholder)

			durable := chat.DurableID("901")
			Expect(store.Replace(placeholder.ID, func(m *chat.Message) { m.ID = durable })).To(BeTrue())

			Expect(store.Contains(placeholder.ID)).To(BeFalse())
			Expect(store.Contains(durable)).To(BeTrue())
			Expect(store.List()[1].ID).To(Equal(durable))
		})

		It("should refuse to re-key onto an id held by another slot", func() {
			existing := chat.NewAssistantMessage(chat.DurableID("5"), "old", time.Now(), nil)
			placeholder := chat.NewPlaceholder("hi")
			store.Append(existing)
			store.Append(placeholder)

			ok := store.Replace(placeholder.ID, func(m *chat.Message) {
				m.ID = existing.ID
				m.Content = "dup"
			})

			Expect(ok).To(BeFalse())
			got, _ := store.Get(placeholder.ID)
			Expect(got.Content).To(Equal(chat.ThinkingContent))
		})

		It("should be a no-op for an unknown id", func() {
			store.Append(chat.NewUserMessage("hi"))

			called := false
			ok := store.Replace(chat.NewLocalID(), func(m *chat.Message) { called = true })

			Expect(ok).To(BeFalse())
			Expect(called).To(BeFalse())
			Expect(store.Len()).To(Equal(1))
		})
	})

	Describe("Seed", func() {
		It("should place history ahead of live entries and skip duplicates", func() {
			live := chat.NewAssistantMessage(chat.DurableID("3"), "pushed", time.Now(), nil)
			store.Append(live)

			history := []chat.Message{
				chat.NewAssistantMessage(chat.DurableID("1"), "first", time.Now(), nil),
				chat.NewAssistantMessage(chat.DurableID("2"), "second", time.Now(), nil),
				chat.NewAssistantMessage(chat.DurableID("3"), "pushed", time.Now(), nil),
			}

			Expect(store.Seed(history)).To(Equal(2))

			list := store.List()
			Expect(list).To(HaveLen(3))
			Expect(list[0].ID).To(Equal(chat.DurableID("1")))
			Expect(list[1].ID).To(Equal(chat.DurableID("2")))
			Expect(list[2].ID).To(Equal(chat.DurableID("3")))

			Expect(store.Replace(chat.DurableID("3"), func(m *chat.Message) { m.Content = "edited" })).To(BeTrue())
			Expect(store.List()[2].Content).To(Equal("edited"))
		})
	})

	Describe("OnChange", func() {
		It("should observe appends and replacements", func() {
			var seen []string
			store.OnChange(func(m chat.Message) { seen = append(seen, m.Content) })

			placeholder := chat.NewPlaceholder("x")
			store.Append(placeholder)
			store.Replace(placeholder.ID, func(m *chat.Message) { m.Content = "done" })

			Expect(seen).To(Equal([]string{chat.ThinkingContent, "done"}))
		})
	})

	Describe("queries", func() {
		It("should find the last final assistant message and count roles", func() {
			resolved := chat.NewAssistantMessage(chat.DurableID("1"), "resolved", time.Now(), nil)
			store.Append(chat.NewUserMessage("a"))
			store.Append(resolved)
			store.Append(chat.NewUserMessage("b"))
			store.Append(chat.NewPlaceholder("b"))

			last, ok := store.LastFinalAssistant()
			Expect(ok).To(BeTrue())
			Expect(last.ID).To(Equal(resolved.ID))
			Expect(store.CountByRole(chat.RoleUser)).To(Equal(2))
			Expect(store.CountByRole(chat.RoleAssistant)).To(Equal(2))
			Expect(store.ProjectID()).To(Equal("7"))
		})
	})
})
