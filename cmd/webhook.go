package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"go.olrik.dev/relaunch/internal/auth"
	"go.olrik.dev/relaunch/internal/core"
	"go.olrik.dev/relaunch/internal/keyring"
)

func NewWebhookCommand(dir *string) *cobra.Command {
	webhookCmd := &cobra.Command{
		Use:   "webhook",
		Short: "Webhook helpers",
	}

	var secret string
	signCmd := &cobra.Command{
		Use:   "sign [file]",
		Short: "Print the signature header for a payload",
		Long: `Print the x-hub-signature-256 value GitHub would send for a payload.

The payload is read from file, or from stdin when no file is given. The
secret is taken from --secret, then GITHUB_WEBHOOK_SECRET, then the keyring.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			body, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}

			key, err := signingSecret(secret, *dir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), auth.Sign(key, string(body)))
			return nil
		},
	}
	signCmd.Flags().StringVar(&secret, "secret", "", "webhook secret")

	webhookCmd.AddCommand(signCmd)
	return webhookCmd
}

func signingSecret(flag, dir string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := os.Getenv(core.EnvWebhookSecret); v != "" {
		return v, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	secret, err := keyring.GetSecret(abs)
	if errors.Is(err, keyring.ErrNoSecret) {
		return "", errors.New("no webhook secret given, use --secret or " + core.EnvWebhookSecret)
	}
	return secret, err
}
