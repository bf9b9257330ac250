package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"go.olrik.dev/relaunch/internal/keyring"
)

func NewSecretCommand(dir *string) *cobra.Command {
	secretCmd := &cobra.Command{
		Use:     "secret",
		Aliases: []string{"secrets"},
		Short:   "Manage the stored webhook secret",
		Long: `Store or delete the webhook secret for a project. The secret is stored
securely in the system keyring (Keychain on macOS, Secret Service on Linux)
and keyed by the absolute project directory.`,
	}

	projectDir := func() string {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			slog.Error(fmt.Sprintf("Failed to resolve project directory: %v", err))
			os.Exit(1)
		}
		return abs
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store the webhook secret for the project",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			project := projectDir()

			secret, err := keyring.PromptAndConfirmSecret("Webhook secret")
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to read secret: %v", err))
				os.Exit(1)
			}

			if err := keyring.SetSecret(project, secret); err != nil {
				slog.Error(fmt.Sprintf("Failed to store secret: %v", err))
				os.Exit(1)
			}

			slog.Info(fmt.Sprintf("Webhook secret stored securely for '%s'", project))
		},
	}

	deleteCmd := &cobra.Command{
		Use:     "delete",
		Aliases: []string{"del", "remove", "rm"},
		Short:   "Delete the stored webhook secret for the project",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			project := projectDir()

			if err := keyring.DeleteSecret(project); err != nil {
				slog.Error(fmt.Sprintf("Failed to delete secret: %v", err))
				os.Exit(1)
			}

			slog.Info(fmt.Sprintf("Webhook secret deleted for '%s'", project))
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a webhook secret is stored for the project",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			project := projectDir()
			if keyring.HasSecret(project) {
				fmt.Printf("A webhook secret is stored for %s\n", project)
				return
			}
			fmt.Printf("No webhook secret stored for %s\n", project)
		},
	}

	secretCmd.AddCommand(setCmd, deleteCmd, statusCmd)
	return secretCmd
}
