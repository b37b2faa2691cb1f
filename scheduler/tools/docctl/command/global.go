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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	apiPrefix  = "/tinydoc/api/v1"
	defaultURL = "http://127.0.0.1:27019"
)

var dialClient = &http.Client{}

// InitCommand builds the root command of docctl.
func InitCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "docctl",
		Short:         "tinydoc config server control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("url", "u", defaultURL, "address of the config server")
	rootCmd.AddCommand(
		NewMoveRangeCommand(),
		NewShardCommand(),
		NewCollectionCommand(),
		NewBalancerCommand(),
		NewLogCommand(),
		NewFCVCommand(),
		NewPingCommand(),
	)
	return rootCmd
}

func getEndpoint(cmd *cobra.Command) string {
	addr, err := cmd.Flags().GetString("url")
	if err != nil || addr == "" {
		addr = defaultURL
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/")
}

// doRequest sends a request to the config server API and returns the body
// of a successful response.
func doRequest(cmd *cobra.Command, path, method string, body []byte) (string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, getEndpoint(cmd)+apiPrefix+path, reader)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := dialClient.Do(req)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("[%d] %s", resp.StatusCode, strings.TrimSpace(string(content)))
	}
	return string(content), nil
}

func getRequest(cmd *cobra.Command, path string, query url.Values) (string, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return doRequest(cmd, path, http.MethodGet, nil)
}

func postJSON(cmd *cobra.Command, path string, input interface{}) (string, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return doRequest(cmd, path, http.MethodPost, data)
}

// printResult prints a response body, or reports err on stderr and keeps
// it as the command result.
func printResult(cmd *cobra.Command, out string, err error) error {
	if err != nil {
		return err
	}
	if out = strings.TrimSpace(out); out != "" && out != "null" {
		cmd.Println(out)
	} else {
		cmd.Println("Success!")
	}
	return nil
}

func usageErr(cmd *cobra.Command, format string, args ...interface{}) error {
	return errors.Errorf("%s\n\nUsage: %s", fmt.Sprintf(format, args...), cmd.UseLine())
}

// NewPingCommand checks the config server is up.
func NewPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "check the config server is serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := doRequest(cmd, "/ping", http.MethodGet, nil)
			return printResult(cmd, out, err)
		},
	}
}
