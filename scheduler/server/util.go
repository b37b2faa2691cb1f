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

package server

import (
	"fmt"

	"github.com/pingcap-incubator/tinydoc/scheduler/server/config"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Version information.
var (
	ReleaseVersion = "None"
	BuildTS        = "None"
	GitHash        = "None"
	GitBranch      = "None"
)

// LogConfigServerInfo prints the config server version information.
func LogConfigServerInfo() {
	log.Info("Welcome to the tinydoc config server")
	log.Info("config server", zap.String("release-version", ReleaseVersion))
	log.Info("config server", zap.String("binary-version", config.BinaryVersion))
	log.Info("config server", zap.String("git-hash", GitHash))
	log.Info("config server", zap.String("git-branch", GitBranch))
	log.Info("config server", zap.String("utc-build-time", BuildTS))
}

// PrintConfigServerInfo prints the config server version information
// without log info.
func PrintConfigServerInfo() {
	fmt.Println("Release Version:", ReleaseVersion)
	fmt.Println("Binary Version: ", config.BinaryVersion)
	fmt.Println("Git Commit Hash:", GitHash)
	fmt.Println("Git Branch:", GitBranch)
	fmt.Println("UTC Build Time: ", BuildTS)
}

// PrintConfigCheckMsg prints the message about configuration checks.
func PrintConfigCheckMsg(cfg *config.Config) {
	if len(cfg.WarningMsgs) == 0 {
		fmt.Println("config check successful")
		return
	}

	for _, msg := range cfg.WarningMsgs {
		fmt.Println(msg)
	}
}
