package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/swarmsync/pkg/secret"
)

// secretCmd inspects access secrets
var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Work with share access secrets",
	Long: `Work with share access secrets.

Available subcommands:
  generate - Mint a fresh write/read secret pair
  inspect  - Show what a secret grants without joining the share`,
}

// secretGenerateCmd mints a secret pair without touching any store
var secretGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Mint a fresh write/read secret pair",
	Long: `Generate a new share identity with its write and read secrets. Nothing
is persisted; use 'share create' to mint secrets bound to a directory.`,
	Args: cobra.NoArgs,
	RunE: runSecretGenerate,
}

func runSecretGenerate(cmd *cobra.Command, args []string) error {
	write, read, id, err := secret.Generate()
	if err != nil {
		return fmt.Errorf("failed to generate secrets: %w", err)
	}

	fmt.Printf("Identity:     %s\n", id)
	fmt.Printf("Write secret: %s\n", write)
	fmt.Printf("Read secret:  %s\n", read)
	return nil
}

// secretInspectCmd parses a secret and prints its properties
var secretInspectCmd = &cobra.Command{
	Use:   "inspect <secret>",
	Short: "Show what a secret grants",
	Long: `Parse an access secret and print its identity, access level and,
for read secrets, the embedded swarm locator. The secret is not used to
join anything.`,
	Args: cobra.ExactArgs(1),
	RunE: runSecretInspect,
}

func runSecretInspect(cmd *cobra.Command, args []string) error {
	parsed, err := secret.Parse(secret.Secret(args[0]))
	if err != nil {
		return fmt.Errorf("not a valid secret: %w", err)
	}

	fmt.Printf("Identity:     %s\n", parsed.Identity)
	fmt.Printf("Access level: %s\n", parsed.Level)
	if parsed.HasLocator() {
		fmt.Printf("Locator:      %s\n", parsed.Locator)
	} else {
		fmt.Printf("Locator:      (none, fallback %s)\n", secret.FallbackLocator(parsed.Identity))
	}
	return nil
}
