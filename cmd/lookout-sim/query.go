// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xmidt-org/lookout/model"
)

var logsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show online and offline counts for the fleet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats, err := client.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <agentID>",
	Short: "Show the derived status of one agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hb, err := client.Status(cmd.Context(), model.AgentID(args[0]))
		if err != nil {
			return err
		}
		return printJSON(cmd, hb)
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <agentID>",
	Short: "Show the online and offline history of one agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logs, err := client.OnlineLogs(cmd.Context(), model.AgentID(args[0]), logsLimit)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			fmt.Fprintln(os.Stderr, "no transitions recorded")
		}
		return printJSON(cmd, logs)
	},
}

func init() {
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "l", 0, "maximum entries, zero for the server default")
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
