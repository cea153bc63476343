// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xmidt-org/lookout/agentclient"
	"go.uber.org/zap"
)

const defaultAddress = "http://localhost:6600"

var (
	address string
	timeout time.Duration
	debug   bool

	client *agentclient.Client
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:          "lookout-sim",
	Short:        "Simulate lookout agents",
	Long:         `lookout-sim registers fake agents, sends their heartbeats and uploads generated frames so a lookout deployment can be exercised without real endpoints.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if debug {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		client, err = agentclient.NewClient(agentclient.Config{
			Address: address,
			Timeout: timeout,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create client: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// A .env next to the binary may carry LOOKOUT_ADDRESS.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVarP(&address, "address", "a", envOr("LOOKOUT_ADDRESS", defaultAddress), "lookout base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per request timeout")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enables debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
