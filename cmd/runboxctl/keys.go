package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var keyDescription string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var keysAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Generate and store a new API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		key := uuid.NewString()
		if err := s.CreateKey(context.Background(), key, keyDescription); err != nil {
			return err
		}
		// The full key is printed exactly once, at creation.
		fmt.Println(key)
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		keys, err := s.ListKeys(context.Background())
		if err != nil {
			return err
		}
		for _, k := range keys {
			prefix := k.Key
			if len(prefix) > 8 {
				prefix = prefix[:8]
			}
			fmt.Printf("%s…  created %s  %s\n", prefix, k.CreatedAt.Format("2006-01-02 15:04"), k.Description)
		}
		return nil
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key>",
	Short: "Delete an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.RevokeKey(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Println("revoked")
		return nil
	},
}

func init() {
	keysAddCmd.Flags().StringVar(&keyDescription, "description", "", "free-form note stored with the key")
	keysCmd.AddCommand(keysAddCmd, keysListCmd, keysRevokeCmd)
}
