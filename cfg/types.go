// Copyright 2024 Google LLC
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

package cfg

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rackscale/lfs-librarian/internal/util"
)

// LogSeverity represents the logging severity and can accept the following values
// "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF"
type LogSeverity string

// Constants for all supported log severities.
const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

// severityRanking maps each level to an integer for validation and comparison.
var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity level: %s. Must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

// Rank returns the integer representation of the severity rank.
// Returns -1 if the severity is unknown.
func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	return -1
}

// ResolvedPath represents a file-path which is resolved to an absolute
// path at decode time.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	path, err := util.GetResolvedPath(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(path)
	return nil
}

// StoreBackend names a metadata store implementation.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendSQL    StoreBackend = "sql"
)

func (s *StoreBackend) UnmarshalText(text []byte) error {
	v := StoreBackend(strings.ToLower(string(text)))
	if !slices.Contains([]StoreBackend{StoreBackendMemory, StoreBackendSQL}, v) {
		return fmt.Errorf("invalid store backend: %s. Must be one of [memory, sql]", text)
	}
	*s = v
	return nil
}

// ShadowBackend names a shadow (shelf data-path) implementation.
type ShadowBackend string

const (
	ShadowBackendDirectory ShadowBackend = "directory"
	ShadowBackendFlatFile  ShadowBackend = "flatfile"
	ShadowBackendIVSHMEM   ShadowBackend = "ivshmem"
)

func (s *ShadowBackend) UnmarshalText(text []byte) error {
	v := ShadowBackend(strings.ToLower(string(text)))
	if !slices.Contains([]ShadowBackend{ShadowBackendDirectory, ShadowBackendFlatFile, ShadowBackendIVSHMEM}, v) {
		return fmt.Errorf("invalid shadow backend: %s. Must be one of [directory, flatfile, ivshmem]", text)
	}
	*s = v
	return nil
}

// LoggingConfig controls the daemon's slog output: minimum severity,
// text-vs-JSON rendering, and optional file rotation.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	// Format is either "text" or "json".
	Format string `yaml:"format"`

	// FilePath is the destination log file; empty means stderr.
	FilePath ResolvedPath `yaml:"file-path"`

	LogRotate LogRotateConfig `yaml:"log-rotate"`
}

// LogRotateConfig mirrors the teacher's lumberjack.v2 rotation knobs.
type LogRotateConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}
