package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/medwatch/config"
	srv "github.com/mohammad-safakhou/medwatch/internal/server"
)

func runCMD() *cobra.Command {
	var cfgPath string
	var timeout time.Duration
	var run = &cobra.Command{
		Use:   "run",
		Short: "Execute a single ingestion run and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			return srv.RunOnce(cfg, timeout)
		},
	}
	run.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this duration (0 = no limit)")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}
