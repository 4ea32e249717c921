package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marmos91/swarmsync/pkg/config"
	"github.com/marmos91/swarmsync/pkg/orchestrator"
	"github.com/marmos91/swarmsync/pkg/secret"
	"github.com/marmos91/swarmsync/pkg/share"
)

var (
	shareName        string
	shareDefaultPath string
	shareRules       []string
)

// shareCmd manages shares
var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Manage synchronized shares",
	Long: `Manage synchronized shares.

Available subcommands:
  create - Publish a local folder as a new share
  add    - Join an existing share with a secret
  list   - List configured shares
  remove - Remove a share (local files are kept)`,
}

// shareCreateCmd publishes a local folder
var shareCreateCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Publish a local folder as a new share",
	Long: `Publish a local folder as a new share.

Prints the write and read secrets for the new share. Hand the write secret
to peers who should edit the folder, the read secret to peers who should
only receive it. The daemon starts synchronizing the share on its next
start.`,
	Args: cobra.ExactArgs(1),
	RunE: runShareCreate,
}

// shareAddCmd joins a share with a secret
var shareAddCmd = &cobra.Command{
	Use:   "add <secret> <path>",
	Short: "Join an existing share with a secret",
	Args:  cobra.ExactArgs(2),
	RunE:  runShareAdd,
}

// shareListCmd lists configured shares
var shareListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured shares",
	RunE:  runShareList,
}

// shareRemoveCmd deletes a share record
var shareRemoveCmd = &cobra.Command{
	Use:   "remove <identity>",
	Short: "Remove a share (local files are kept)",
	Args:  cobra.ExactArgs(1),
	RunE:  runShareRemove,
}

func init() {
	shareCreateCmd.Flags().StringVar(&shareName, "name", "", "Display name (default: folder name)")
	shareCreateCmd.Flags().StringVar(&shareDefaultPath, "default-path", "", "Suggested local path for joining peers")
	shareCreateCmd.Flags().StringArrayVar(&shareRules, "rule", nil, "Exclusion rule in gitignore syntax (repeatable)")
	shareAddCmd.Flags().StringVar(&shareName, "name", "", "Display name (default: folder name)")
}

// withOrchestrator runs fn against a short-lived orchestrator backed by the
// configured store. Share records it persists are picked up by the daemon.
func withOrchestrator(fn func(ctx context.Context, orch *orchestrator.Orchestrator) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx := context.Background()

	store, err := config.CreateShareStore(ctx, &cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create share store: %w", err)
	}
	defer func() { _ = store.Close() }()

	eng, err := config.CreateEngine(&cfg.Engine)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Engine:              eng,
		Store:               store,
		Debounce:            cfg.Sync.Debounce,
		StopTimeout:         cfg.Sync.StopTimeout,
		DisableDefaultRules: cfg.Sync.DisableDefaultRules,
	})
	if err != nil {
		return err
	}
	defer func() { _ = orch.Close(ctx) }()

	return fn(ctx, orch)
}

func runShareCreate(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	return withOrchestrator(func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		res, err := orch.Create(ctx, orchestrator.CreateOptions{
			Path:        path,
			Name:        shareName,
			DefaultPath: shareDefaultPath,
			Rules:       shareRules,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Share created: %s (%s)\n", res.Share.Name, res.Share.ID)
		fmt.Printf("  Write secret: %s\n", res.WriteSecret)
		fmt.Printf("  Read secret:  %s\n", res.ReadSecret)
		fmt.Println("\nRun 'swarmsync serve' to start synchronizing.")
		return nil
	})
}

func runShareAdd(cmd *cobra.Command, args []string) error {
	token := secret.Secret(args[0])
	path, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}

	return withOrchestrator(func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		rec, err := orch.Add(ctx, token, path, shareName)
		if err != nil {
			return err
		}

		fmt.Printf("Share added: %s (%s, %s)\n", rec.Name, rec.ID, rec.Access)
		fmt.Println("\nRun 'swarmsync serve' to start synchronizing.")
		return nil
	})
}

func runShareList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx := context.Background()

	store, err := config.CreateShareStore(ctx, &cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create share store: %w", err)
	}
	defer func() { _ = store.Close() }()

	shares, err := store.LoadAll(ctx)
	if err != nil {
		return err
	}

	if len(shares) == 0 {
		fmt.Println("No shares configured.")
		return nil
	}

	for _, rec := range shares {
		printShare(rec)
	}
	return nil
}

func printShare(rec *share.Share) {
	role := "joined"
	if rec.Publisher {
		role = "publisher"
	}
	fmt.Printf("%s  %s (%s, %s)\n", rec.ID, rec.Name, rec.Access, role)
	fmt.Printf("  path: %s\n", rec.Path)
	if len(rec.Rules) > 0 {
		fmt.Printf("  rules: %v\n", rec.Rules)
	}
}

func runShareRemove(cmd *cobra.Command, args []string) error {
	id := secret.Identity(args[0])

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx := context.Background()

	store, err := config.CreateShareStore(ctx, &cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create share store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Remove(ctx, id); err != nil {
		if err == share.ErrNotFound {
			return fmt.Errorf("no share with identity %s", id)
		}
		return err
	}

	fmt.Printf("Share %s removed. Local files were kept.\n", id)
	return nil
}
