package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/simonryu328/aki-the-bot/pkg/config"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "aki",
		Short: "Companion agent with long-term conversational memory",
		Long: strings.TrimSpace(`aki is a conversational companion that remembers.

It keeps a per-user transcript, folds it into compact diary summaries,
assembles layered context for every reply, and schedules its own
follow-ups to reach out later.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newReflectCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func configPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".aki", "config.json")
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.aki with a default configuration",
		Example: "  aki onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists at %s\n", path)
				return nil
			}
			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("Wrote default config to %s\n", path)
			fmt.Println("Set providers.openrouter.api_key (or AKI_PROVIDERS_OPENROUTER_API_KEY) before chatting.")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and readiness",
		Example: "  aki status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				return err
			}
			fmt.Printf("config:     %s\n", configPath())
			fmt.Printf("db:         %s\n", cfg.DBFile())
			fmt.Printf("timezone:   %s\n", cfg.Agent.Timezone)
			fmt.Printf("model:      %s\n", cfg.Providers.OpenRouter.Model)
			fmt.Printf("scheduler:  %s\n", cfg.Scheduler.Cron)
			fmt.Printf("retrieval:  %v\n", cfg.Retrieval.Enabled)
			if strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) == "" {
				fmt.Println("provider:   NOT READY (missing API key)")
			} else {
				fmt.Println("provider:   ready")
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  aki version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
