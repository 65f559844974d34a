package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/campuschat/internal/daemon"
	"github.com/matheus3301/campuschat/internal/lock"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

var statusServices = []struct {
	label   string
	service string
}{
	{"daemon", ""},
	{"connection", daemon.ServiceConn},
	{"cache", daemon.ServiceCache},
}

func newStatusCommand(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, paths, err := g.resolve()
			if err != nil {
				return err
			}
			c, err := daemon.Dial(paths.Socket())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()

			results := make(map[string]*healthpb.HealthCheckResponse, len(statusServices))
			for _, s := range statusServices {
				resp, err := c.Check(ctx, s.service)
				if err != nil {
					return fmt.Errorf("cannot reach chatd for account %q: %w", paths.Name, err)
				}
				results[s.label] = resp
			}
			owner, _ := lock.ReadOwner(paths.Lock())

			if asJSON {
				return printStatusJSON(paths.Name, owner, results)
			}
			fmt.Printf("account:    %s\n", paths.Name)
			if owner.PID != 0 {
				fmt.Printf("pid:        %d (since %s)\n", owner.PID, owner.Since.Local().Format(time.DateTime))
			}
			for _, s := range statusServices {
				fmt.Printf("%-11s %s\n", s.label+":", results[s.label].GetStatus())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func printStatusJSON(name string, owner lock.Owner, results map[string]*healthpb.HealthCheckResponse) error {
	out := map[string]any{"account": name}
	if owner.PID != 0 {
		out["pid"] = owner.PID
	}
	for label, resp := range results {
		raw, err := protojson.Marshal(resp)
		if err != nil {
			return err
		}
		out[label] = json.RawMessage(raw)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
