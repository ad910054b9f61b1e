// runboxctl is the operator tool: API key management and job statistics,
// straight against the service database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codevat/runbox/internal/config"
	"github.com/codevat/runbox/internal/store"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "runboxctl",
	Short: "Administer the runbox code-execution service",
}

func openStore() (*store.SQLiteStore, error) {
	path := dbPath
	if path == "" {
		conf, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}
		path = conf.DBPath
	}
	return store.Open(path)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the service database (default: RUNBOX_DB_PATH)")
	rootCmd.AddCommand(keysCmd, statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
