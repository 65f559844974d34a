package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/chzyer/readline"
	"github.com/matheus3301/campuschat/internal/account"
	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/chat"
	"github.com/spf13/cobra"
)

func newDMCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "dm <peer-id>",
		Short: "Chat with a peer interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			l, err := g.startEngine(ctx)
			if err != nil {
				return err
			}
			defer l.stop()

			waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if err := l.waitAuthenticated(waitCtx); err != nil {
				fmt.Printf("realtime connection unavailable (%v); sending over REST\n", err)
			}
			cancel()

			history, err := l.chat.OpenConversation(ctx, peer)
			if err != nil {
				fmt.Printf("could not load history: %v\n", err)
			}
			for _, m := range history {
				printDM(m)
			}
			defer l.chat.CloseConversation()

			rl, err := readline.NewEx(dmPromptConfig(peer, l.paths))
			if err != nil {
				return err
			}
			defer func() { _ = rl.Close() }()

			events, unsub := l.bus.Subscribe("chat.", 64)
			defer unsub()
			done := make(chan struct{})
			defer close(done)
			go func() {
				for {
					select {
					case evt := <-events:
						showChatEvent(rl.Stdout(), l, peer, evt)
					case <-done:
						return
					}
				}
			}()

			return interact(rl, func(line string) error {
				if line == "/quit" {
					return errQuit
				}
				if _, err := l.chat.SendMessage(ctx, peer, line); err != nil {
					if errors.Is(err, chat.ErrEmptyMessage) {
						return nil
					}
					fmt.Fprintf(rl.Stdout(), "! not sent: %v\n", err)
				}
				return nil
			})
		},
	}
}

func printDM(m chat.Message) {
	fmt.Println(formatDM(m))
}

func formatDM(m chat.Message) string {
	who := "them"
	if m.Direction == chat.Sent {
		who = "me"
	}
	return fmt.Sprintf("[%s] %-4s %s", m.CreatedAt.Local().Format(time.TimeOnly), who, m.Body)
}

func showChatEvent(w io.Writer, l *live, peer int64, evt bus.Event) {
	switch evt.Kind {
	case bus.ChatMessageAppended:
		p, ok := evt.Payload.(chat.MessageEvent)
		if ok && p.PeerID == peer && p.Message.Direction == chat.Received {
			fmt.Fprintln(w, formatDM(p.Message))
			l.chat.MarkRead(p.Message.ID)
		}
	case bus.ChatTyping:
		if p, ok := evt.Payload.(chat.TypingEvent); ok && p.UserID == peer && p.IsTyping {
			fmt.Fprintln(w, "  … typing")
		}
	case bus.ChatError:
		if err, ok := evt.Payload.(error); ok {
			fmt.Fprintln(w, "!", err)
		}
	}
}

func dmPromptConfig(peer int64, paths account.Paths) *readline.Config {
	return promptConfig(fmt.Sprintf("%d> ", peer), paths.DMHistory())
}
