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
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
)

const moveRangeName = "_configsvrMoveRange"

func parseExtJSONDoc(s string) (bson.D, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(s), false, &doc); err != nil {
		return nil, errors.Wrapf(err, "invalid extended JSON %q", s)
	}
	return doc, nil
}

// NewMoveRangeCommand asks the config server to move a chunk.
func NewMoveRangeCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "move-range <namespace> <to-shard> <min> <max>",
		Short: "move the chunk with the given bounds to another shard",
		Long: "move the chunk with the given bounds to another shard. " +
			"The bounds are extended JSON shard keys, e.g. '{\"a\": {\"$minKey\": 1}}'.",
		RunE: moveRangeCommandFunc,
	}
	m.Flags().Bool("wait-for-delete", false, "wait for the source shard to delete the moved range")
	m.Flags().Bool("secondary-throttle", false, "wait for the write concern on every batch of the migration")
	m.Flags().Int32("force-jumbo", 0, "0 does not move jumbo chunks, 1 forces a manual move, 2 a balancer move")
	m.Flags().String("w", "", "write concern w: a number, majority or a tag")
	return m
}

func moveRangeCommandFunc(cmd *cobra.Command, args []string) error {
	if len(args) != 4 {
		return usageErr(cmd, "move-range needs a namespace, a shard and two bounds")
	}
	min, err := parseExtJSONDoc(args[2])
	if err != nil {
		return err
	}
	max, err := parseExtJSONDoc(args[3])
	if err != nil {
		return err
	}
	waitForDelete, _ := cmd.Flags().GetBool("wait-for-delete")
	throttle, _ := cmd.Flags().GetBool("secondary-throttle")
	forceJumbo, _ := cmd.Flags().GetInt32("force-jumbo")
	w, _ := cmd.Flags().GetString("w")

	body := bson.D{
		{Key: moveRangeName, Value: args[0]},
		{Key: "toShard", Value: args[1]},
		{Key: "min", Value: min},
		{Key: "max", Value: max},
		{Key: "waitForDelete", Value: waitForDelete},
		{Key: "secondaryThrottle", Value: throttle},
		{Key: "forceJumbo", Value: forceJumbo},
	}
	if w != "" {
		var wv interface{} = w
		if n, err := strconv.Atoi(w); err == nil {
			wv = int32(n)
		}
		body = append(body, bson.E{Key: "writeConcern", Value: bson.D{{Key: "w", Value: wv}}})
	}
	data, err := bson.MarshalExtJSON(body, false, false)
	if err != nil {
		return errors.WithStack(err)
	}
	out, err := doRequest(cmd, "/admin/"+moveRangeName, http.MethodPost, data)
	return printResult(cmd, out, err)
}

// NewCollectionCommand returns the collection subcommands.
func NewCollectionCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "collection <subcommand>",
		Short: "sharded collection commands",
	}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list sharded collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := getRequest(cmd, "/collections", nil)
			return printResult(cmd, out, err)
		},
	})

	shard := &cobra.Command{
		Use:   "shard <namespace> <key>",
		Short: "shard a collection on an extended JSON key pattern",
		RunE:  shardCollectionCommandFunc,
	}
	shard.Flags().StringArray("split-point", nil, "extended JSON split point, may be repeated")
	shard.Flags().String("primary", "", "shard owning the initial chunks")
	shard.Flags().Bool("distribute", false, "hand the initial chunks to every shard round robin")
	c.AddCommand(shard)

	chunks := &cobra.Command{
		Use:   "chunks <namespace>",
		Short: "list the chunks of a collection",
		RunE:  showChunksCommandFunc,
	}
	chunks.Flags().String("from", "", "extended JSON shard key to start at")
	chunks.Flags().Int("limit", 0, "maximum number of chunks to show")
	c.AddCommand(chunks)

	c.AddCommand(&cobra.Command{
		Use:   "drop <namespace>",
		Short: "forget the routing info of a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErr(cmd, "missing namespace")
			}
			out, err := doRequest(cmd, "/collections/"+url.PathEscape(args[0]), http.MethodDelete, nil)
			return printResult(cmd, out, err)
		},
	})
	return c
}

func shardCollectionCommandFunc(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return usageErr(cmd, "shard needs a namespace and a key pattern")
	}
	primary, _ := cmd.Flags().GetString("primary")
	if primary == "" {
		return usageErr(cmd, "--primary is required")
	}
	if _, err := parseExtJSONDoc(args[1]); err != nil {
		return err
	}
	points, _ := cmd.Flags().GetStringArray("split-point")
	input := map[string]interface{}{
		"namespace":     args[0],
		"key":           json.RawMessage(args[1]),
		"primary_shard": primary,
	}
	if len(points) > 0 {
		raw := make([]json.RawMessage, 0, len(points))
		for _, p := range points {
			if _, err := parseExtJSONDoc(p); err != nil {
				return err
			}
			raw = append(raw, json.RawMessage(p))
		}
		input["split_points"] = raw
	}
	if distribute, _ := cmd.Flags().GetBool("distribute"); distribute {
		input["distribute"] = true
	}
	out, err := postJSON(cmd, "/collections", input)
	return printResult(cmd, out, err)
}

func showChunksCommandFunc(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return usageErr(cmd, "missing namespace")
	}
	query := url.Values{}
	if from, _ := cmd.Flags().GetString("from"); from != "" {
		query.Set("from", from)
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	out, err := getRequest(cmd, "/collections/"+url.PathEscape(args[0])+"/chunks", query)
	return printResult(cmd, out, err)
}
