package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail [conversation-id]",
	Short: "Follow live session events until interrupted",
	Long: "Start a session and print state changes, new messages, presence and typing as they happen.\n" +
		"With a conversation id, that conversation is opened so its room is joined and reads are reported.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, log, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		p := &tailPrinter{s: s, seen: make(map[string]bool)}
		unsubscribe := s.Subscribe(p.handle)
		defer unsubscribe()

		if len(args) == 1 {
			if err := s.SelectConversation(ctx, args[0]); err != nil {
				return err
			}
			for _, m := range s.Messages(args[0]) {
				p.printMessage(m)
			}
		}
		log.Info("Tailing session", "user", s.SelfID(), "conversations", len(s.Conversations()))
		fmt.Printf("Connected as %s. Press Ctrl+C to stop.\n", s.SelfID())

		<-ctx.Done()
		return nil
	},
}

// tailPrinter prints each confirmed message once.
type tailPrinter struct {
	s    *chatsync.Session
	mu   sync.Mutex
	seen map[string]bool
}

func (p *tailPrinter) handle(e chatsync.Event) {
	switch e.Type {
	case chatsync.EventStateChanged:
		fmt.Printf("[state] %s\n", e.State)
	case chatsync.EventMessagesChanged:
		for _, m := range p.s.Messages(e.ConversationID) {
			p.printMessage(m)
		}
	case chatsync.EventPresenceChanged:
		fmt.Printf("[presence] online: %v\n", p.s.OnlineUsers())
	case chatsync.EventTypingChanged:
		for _, t := range p.s.TypingUsers(e.ConversationID) {
			fmt.Printf("[typing] %s in %s\n", valueOrDefault(t.User.Name, t.UserID), e.ConversationID)
		}
	case chatsync.EventMessageFailed:
		fmt.Printf("[failed] %s: %v\n", e.ConversationID, e.Err)
	case chatsync.EventError:
		fmt.Printf("[error] %v\n", e.Err)
	}
}

func (p *tailPrinter) printMessage(m chatsync.Message) {
	if m.IsPending {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[m.ID] {
		return
	}
	p.seen[m.ID] = true
	body := m.Body
	for _, a := range m.Attachments {
		body += fmt.Sprintf(" [%s]", a.Name)
	}
	fmt.Printf("[%s] %s %s: %s\n", m.ConversationID, m.CreatedAt.Local().Format("15:04:05"), m.SenderID, body)
}
