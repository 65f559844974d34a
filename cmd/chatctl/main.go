package main

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "campuschat command line client",
		Example:       "chatctl room create --qr",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&g.account, "account", "", "account name (overrides config default)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "log at debug level")

	cmd.AddCommand(
		newStatusCommand(g),
		newContactsCommand(g),
		newHistoryCommand(g),
		newSendCommand(g),
		newDMCommand(g),
		newRoomCommand(g),
	)
	return cmd
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
