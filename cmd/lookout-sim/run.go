// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"
)

var (
	simConfig = SimConfig{MaxRetries: -1}
	duration  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register agents and drive their heartbeats and uploads",
	Long: `Run registers the requested number of agents, then sends a heartbeat
and a generated frame for each of them on the configured intervals. Some
frames are flagged as alerts and some carry a wallet address on the clipboard.
A report is printed as JSON when the run ends.`,
	Args: cobra.NoArgs,
	RunE: runSimulation,
}

func init() {
	f := runCmd.Flags()
	f.IntVarP(&simConfig.Agents, "agents", "n", 5, "number of agents to simulate")
	f.DurationVar(&simConfig.HeartbeatInterval, "heartbeat", 10*time.Second, "heartbeat interval")
	f.DurationVar(&simConfig.ScreenshotInterval, "screenshot", 30*time.Second, "screenshot interval")
	f.Float64Var(&simConfig.AlertRatio, "alert-ratio", 0.1, "share of frames flagged as alerts")
	f.Float64Var(&simConfig.ViolationRatio, "violation-ratio", 0.05, "share of frames with a wallet address on the clipboard")
	f.BoolVar(&simConfig.Queued, "queued", false, "upload through the retry queue")
	f.IntVar(&simConfig.MaxRetries, "max-retries", -1, "retries for queued uploads, negative for the server default")
	f.DurationVar(&duration, "duration", 0, "stop after this long, zero runs until interrupted")
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	sim, err := NewSimulator(simConfig, client, clock.WallClock, logger)
	if err != nil {
		return err
	}
	report, err := sim.Run(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil && err == nil {
		err = encErr
	}
	return err
}
