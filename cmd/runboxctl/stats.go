package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts by status and outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.Stats(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("not_started  %d\n", stats.NotStarted)
		fmt.Printf("running      %d\n", stats.Running)
		fmt.Printf("done         %d\n", stats.Done)
		fmt.Printf("  crashed    %d\n", stats.Crashed)
		fmt.Printf("  timed_out  %d\n", stats.TimedOut)
		return nil
	},
}
