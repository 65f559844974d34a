package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newContactsCommand(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "List cached conversations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, paths, err := g.resolve()
			if err != nil {
				return err
			}
			db, err := openCache(paths)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			contacts, err := db.ListContacts()
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(contacts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tUNREAD\tLAST\tWHEN")
			for _, c := range contacts {
				when := ""
				if c.LastMessageAt > 0 {
					when = time.UnixMilli(c.LastMessageAt).Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", c.PeerID, c.Name, c.UnreadCount, preview(c.LastMessage, 40), when)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func newHistoryCommand(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <peer-id>",
		Short: "Show cached messages with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			_, paths, err := g.resolve()
			if err != nil {
				return err
			}
			db, err := openCache(paths)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			msgs, err := db.ListMessages(peer, 0, limit)
			if err != nil {
				return err
			}
			slices.Reverse(msgs)
			for _, m := range msgs {
				who := "them"
				if m.FromMe {
					who = "me"
				}
				at := time.UnixMilli(m.CreatedAt).Local().Format(time.DateTime)
				fmt.Printf("[%s] %-4s %s  (%s)\n", at, who, m.Body, m.Status)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of messages")
	return cmd
}

func newSendCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer-id> <text>",
		Short: "Queue a direct message for chatd to deliver",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			body := strings.Join(args[1:], " ")
			_, paths, err := g.resolve()
			if err != nil {
				return err
			}
			db, err := openCache(paths)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			id := "cli-" + uuid.NewString()
			if err := db.QueueOutbox(id, peer, body); err != nil {
				return err
			}
			fmt.Printf("queued %s\n", id)
			return nil
		},
	}
}

func parsePeer(s string) (int64, error) {
	peer, err := strconv.ParseInt(s, 10, 64)
	if err != nil || peer <= 0 {
		return 0, fmt.Errorf("invalid peer id %q", s)
	}
	return peer, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
