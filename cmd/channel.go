package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/relaunch/internal/relay"
)

func NewChannelCommand() *cobra.Command {
	channelCmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage webhook relay channels",
	}

	var base string
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new relay channel",
		Long: `Create a new channel on the webhook relay and print its address.

Use the address as the webhook payload URL on GitHub and as event_source_url
in .relaunch.hcl.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			address, err := relay.NewChannel(ctx, base)
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to create channel: %v", err))
				os.Exit(1)
			}
			fmt.Println(address)
		},
	}
	newCmd.Flags().StringVar(&base, "relay", relay.DefaultChannelBase, "relay base address")

	channelCmd.AddCommand(newCmd)
	return channelCmd
}
