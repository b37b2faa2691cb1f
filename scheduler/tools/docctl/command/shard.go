// Copyright 2022 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package command

import (
	"net/http"

	"github.com/spf13/cobra"
)

// NewShardCommand returns the shard subcommands.
func NewShardCommand() *cobra.Command {
	s := &cobra.Command{
		Use:   "shard <subcommand>",
		Short: "shard commands",
	}
	s.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list all shards",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := getRequest(cmd, "/shards", nil)
			return printResult(cmd, out, err)
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "show a shard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErr(cmd, "missing shard id")
			}
			out, err := getRequest(cmd, "/shards/"+args[0], nil)
			return printResult(cmd, out, err)
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "add <id> <host>",
		Short: "register a shard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErr(cmd, "add needs a shard id and a host")
			}
			out, err := postJSON(cmd, "/shards", map[string]string{"id": args[0], "host": args[1]})
			return printResult(cmd, out, err)
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "remove a shard, or start draining it while it owns chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErr(cmd, "missing shard id")
			}
			out, err := doRequest(cmd, "/shards/"+args[0], http.MethodDelete, nil)
			return printResult(cmd, out, err)
		},
	})
	return s
}

// NewBalancerCommand shows the balancer state.
func NewBalancerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balancer",
		Short: "show the balancer state",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := getRequest(cmd, "/balancer", nil)
			return printResult(cmd, out, err)
		},
	}
}

// NewLogCommand sets the log level of the config server.
func NewLogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "log [fatal|error|warn|info|debug]",
		Short: "set log level",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErr(cmd, "missing log level")
			}
			out, err := postJSON(cmd, "/config/log-level", args[0])
			return printResult(cmd, out, err)
		},
	}
}

// NewFCVCommand shows or sets the feature compatibility version.
func NewFCVCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fcv [version]",
		Short: "show or set the feature compatibility version",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch len(args) {
			case 0:
				out, err := getRequest(cmd, "/config/fcv", nil)
				return printResult(cmd, out, err)
			case 1:
				out, err := postJSON(cmd, "/config/fcv", map[string]string{"version": args[0]})
				return printResult(cmd, out, err)
			}
			return usageErr(cmd, "too many arguments")
		},
	}
}
