package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

func newChatCommand() *cobra.Command {
	var (
		user    string
		message string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to aki in the terminal",
		Long:  "Run an interactive session, or send a one-shot message. The follow-up scheduler runs in the background and proactive messages appear inline.",
		Example: strings.Join([]string{
			"  aki chat",
			"  aki chat --user simon",
			"  aki chat --message \"how was my week?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(user, message, debug)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "local", "User identity for memory scoping")
	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message instead of interactive mode")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runChat(user, message string, debug bool) error {
	rt, err := buildRuntime(debug)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.startScheduler(ctx)

	// Proactive messages surface inline while chatting.
	go func() {
		for {
			msg, ok := rt.bus.ConsumeOutbound(ctx)
			if !ok {
				return
			}
			if msg.UserID == user {
				fmt.Printf("\n%s (reaching out): %s\n", appName, msg.Text)
			}
		}
	}()

	if strings.TrimSpace(message) != "" {
		reply, err := rt.service.HandleTurn(ctx, user, message)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s: %s\n", appName, reply)
		return nil
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
	return interactiveMode(ctx, rt, user)
}

func interactiveMode(ctx context.Context, rt *runtime, user string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".aki_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		reply, err := rt.service.HandleTurn(ctx, user, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("%s: %s\n", appName, reply)
	}
}
