// Copyright 2026 DoorCache Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

func init() {
	// Default logging to discard until explicitly enabled via --log-level
	log.SetOutput(io.Discard)
}

// ConfigureLogging routes logrus to w at the given level (case insensitive).
// "", "off" and "none" discard all output.
func ConfigureLogging(level string, w io.Writer) {
	level = strings.ToLower(level)
	if level == "" || level == "off" || level == "none" {
		log.SetOutput(io.Discard)
		return
	}
	if w == nil {
		w = os.Stderr
	}
	log.SetOutput(w)
	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.DebugLevel)
	}
}
