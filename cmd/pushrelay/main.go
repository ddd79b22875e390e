package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globals struct {
	cfgPath string
	envFile string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "pushrelay",
		Short:         "VAPID Web Push signing and broadcast relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(g.envFile, cmd.Flags().Changed("env-file"))
		},
	}
	root.PersistentFlags().StringVar(&g.cfgPath, "config", envOr("PUSHRELAY_CONFIG", "./config.yaml"), "config file (yaml or json; env PUSHRELAY_CONFIG)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file with VAPID_* secrets; a missing default file is ignored")

	root.AddCommand(
		newServeCmd(g),
		newKeygenCmd(),
		newBroadcastCmd(g),
		newSubsCmd(g),
	)
	return root
}

// loadEnvFile never overrides variables already set in the environment.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("env file %s: %w", path, err)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
