package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newReflectCommand() *cobra.Command {
	var (
		user  string
		debug bool
	)

	cmd := &cobra.Command{
		Use:     "reflect",
		Short:   "Write a reflective diary entry about a user",
		Long:    "Generate a reflection over recent memory and record it as a diary entry. Reflections surface later as standalone history in assembled context.",
		Example: "  aki reflect --user simon",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(debug)
			if err != nil {
				return err
			}
			defer rt.close()

			entry, err := rt.service.Reflect(context.Background(), user)
			if err != nil {
				return err
			}
			fmt.Printf("Reflection recorded:\n%s\n", entry.Content)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "local", "User identity for memory scoping")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}
