package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/chzyer/readline"
	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/room"
	"github.com/matheus3301/campuschat/internal/roomcode"
	"github.com/spf13/cobra"
)

func newRoomCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Ephemeral end-to-end encrypted rooms",
	}

	var showQR bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a room and wait for someone to join",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoom(cmd.Context(), g, func(c *room.Controller) (room.Session, error) {
				return c.Create()
			}, showQR)
		},
	}
	create.Flags().BoolVar(&showQR, "qr", false, "print the room code as a QR code")

	join := &cobra.Command{
		Use:   "join <code>",
		Short: "Join a room by its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := roomcode.Normalize(args[0]); err != nil {
				return err
			}
			return runRoom(cmd.Context(), g, func(c *room.Controller) (room.Session, error) {
				return c.Join(args[0])
			}, false)
		},
	}

	cmd.AddCommand(create, join)
	return cmd
}

func runRoom(ctx context.Context, g *globals, open func(*room.Controller) (room.Session, error), showQR bool) error {
	l, err := g.startEngine(ctx)
	if err != nil {
		return err
	}
	defer l.stop()

	waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := l.waitAuthenticated(waitCtx); err != nil {
		return fmt.Errorf("rooms need the realtime connection: %w", err)
	}

	s, err := open(l.rooms)
	if err != nil {
		return err
	}
	display := roomcode.Format(s.Code)
	if s.Role == room.Creator {
		fmt.Printf("room code: %s\n", display)
		if showQR {
			art, err := renderQR(s.Code)
			if err != nil {
				fmt.Printf("could not render QR: %v\n", err)
			} else {
				fmt.Print(art)
			}
		}
	}

	s, err = l.rooms.Wait(waitCtx)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			return fmt.Errorf("no room with code %s", display)
		}
		return err
	}
	fmt.Printf("joined %s (%d here). /leave to go, /end to close the room for everyone.\n", display, s.ParticipantCount)

	rl, err := readline.NewEx(roomPromptConfig(l.rooms))
	if err != nil {
		return err
	}
	defer func() { _ = rl.Close() }()

	events, unsub := l.bus.Subscribe("room.", 64)
	defer unsub()
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for {
			select {
			case evt := <-events:
				if showRoomEvent(rl.Stdout(), evt) {
					// Unblock Readline so the loop sees the room is gone.
					_ = rl.Close()
					return
				}
			case <-tick.C:
				rl.SetPrompt(roomPrompt(l.rooms))
				rl.Refresh()
			case <-done:
				return
			}
		}
	}()

	return interact(rl, func(line string) error {
		switch line {
		case "/leave", "/quit":
			if err := l.rooms.Leave(); err != nil && !errors.Is(err, room.ErrNoRoom) {
				return err
			}
			return errQuit
		case "/end":
			if err := l.rooms.End(); err != nil {
				fmt.Fprintf(rl.Stdout(), "! %v\n", err)
			}
			return nil
		}
		if _, err := l.rooms.Send(line); err != nil {
			fmt.Fprintf(rl.Stdout(), "! not sent: %v\n", err)
		}
		return nil
	})
}

// roomPromptConfig keeps no history on disk: every line typed in a room is
// message plaintext.
func roomPromptConfig(c *room.Controller) *readline.Config {
	return promptConfig(roomPrompt(c), "")
}

func roomPrompt(c *room.Controller) string {
	left, started := c.Remaining()
	if !started {
		return "room> "
	}
	return fmt.Sprintf("room %02d:%02d> ", int(left.Minutes()), int(left.Seconds())%60)
}

// showRoomEvent prints evt and reports whether the room is over.
func showRoomEvent(w io.Writer, evt bus.Event) bool {
	switch p := evt.Payload.(type) {
	case room.MessageEvent:
		if !p.Message.IsSent {
			fmt.Fprintf(w, "[%s] them %s\n", p.Message.Timestamp.Local().Format(time.TimeOnly), p.Message.Plaintext)
		}
	case room.Session:
		if evt.Kind == bus.RoomUpdated {
			fmt.Fprintf(w, "  %d here\n", p.ParticipantCount)
		}
	case room.Closed:
		fmt.Fprintf(w, "room %s: %s\n", p.Outcome, p.Reason)
		return true
	}
	if evt.Kind == bus.RoomDecryptFailed {
		fmt.Fprintln(w, "! a message could not be decrypted")
	}
	return false
}
