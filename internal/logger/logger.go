// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package logger wraps log/slog with the severity vocabulary and
// text/JSON framing librariand uses for its own logs and uses
// gopkg.in/natefinch/lumberjack.v2 for file rotation.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rackscale/lfs-librarian/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels expressed on slog's integer scale, with TRACE and OFF
// added below and above slog's own Debug/Error range.
const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = 12
)

var severityToLevel = map[cfg.LogSeverity]slog.Level{
	cfg.TraceLogSeverity:   LevelTrace,
	cfg.DebugLogSeverity:   LevelDebug,
	cfg.InfoLogSeverity:    LevelInfo,
	cfg.WarningLogSeverity: LevelWarn,
	cfg.ErrorLogSeverity:   LevelError,
	cfg.OffLogSeverity:     LevelOff,
}

// loggerFactory owns the writer/level/format state behind the package's
// defaultLogger so that SetLogFormat and InitLogFile can rebuild it.
type loggerFactory struct {
	file            *os.File
	sysWriter       io.Writer
	level           cfg.LogSeverity
	format          string
	logRotateConfig cfg.LogRotateConfig
}

var defaultLoggerFactory = &loggerFactory{
	sysWriter: os.Stderr,
	level:     cfg.InfoLogSeverity,
	format:    "text",
}

var defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, levelVarFor(cfg.InfoLogSeverity), ""))

func levelVarFor(sev cfg.LogSeverity) *slog.LevelVar {
	v := new(slog.LevelVar)
	setLoggingLevel(sev, v)
	return v
}

func setLoggingLevel(severity cfg.LogSeverity, programLevel *slog.LevelVar) {
	if level, ok := severityToLevel[severity]; ok {
		programLevel.Set(level)
		return
	}
	programLevel.Set(LevelInfo)
}

// createJsonOrTextHandler builds the handler matching the configured
// format, writing through prefix-tagged messages (used by tests to
// isolate their own log lines from other output on the same writer).
func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	if f.format == "json" {
		return newJSONHandler(w, programLevel, prefix)
	}
	return newTextHandler(w, programLevel, prefix)
}

// InitLogFile points the default logger at a rotated log file described
// by newLogConfig, or at stderr when FilePath is empty.
func InitLogFile(newLogConfig cfg.LoggingConfig) error {
	defaultLoggerFactory.format = newLogConfig.Format
	defaultLoggerFactory.level = newLogConfig.Severity
	defaultLoggerFactory.logRotateConfig = newLogConfig.LogRotate

	if string(newLogConfig.FilePath) == "" {
		defaultLoggerFactory.file = nil
		defaultLoggerFactory.sysWriter = os.Stderr
		defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, levelVarFor(newLogConfig.Severity), ""))
		return nil
	}

	lj := &lumberjack.Logger{
		Filename:   string(newLogConfig.FilePath),
		MaxSize:    newLogConfig.LogRotate.MaxFileSizeMb,
		MaxBackups: newLogConfig.LogRotate.BackupFileCount,
		Compress:   newLogConfig.LogRotate.Compress,
	}

	f, err := os.OpenFile(string(newLogConfig.FilePath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file %q: %w", newLogConfig.FilePath, err)
	}
	defaultLoggerFactory.file = f
	defaultLoggerFactory.sysWriter = nil
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(lj, levelVarFor(newLogConfig.Severity), ""))
	return nil
}

// SetLogFormat swaps the default logger's rendering between "text" and
// "json" (or json when format is empty), keeping the current level and
// destination.
func SetLogFormat(format string) {
	if format == "" {
		format = "json"
	}
	defaultLoggerFactory.format = format
	var w io.Writer = defaultLoggerFactory.sysWriter
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, levelVarFor(defaultLoggerFactory.level), ""))
}

func Tracef(format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), LevelDebug, fmt.Sprintf(format, v...))
}

func Infof(format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), LevelInfo, fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), LevelWarn, fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), LevelError, fmt.Sprintf(format, v...))
}
