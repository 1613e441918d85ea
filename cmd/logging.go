// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "SYSEXCONF_LOG_LEVEL"
	EnvLogNoColor = "SYSEXCONF_LOG_NOCOLOR"
)

// logger is the process logger, configured before any command runs
var logger = zerolog.Nop()

// setupLogging builds the console logger. The flag wins over the
// environment; an unset level means info.
func setupLogging(flagLevel string) error {
	level := zerolog.InfoLevel
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		level = lvl
	}
	if flagLevel != "" {
		lvl, ok := parseLevel(flagLevel)
		if !ok {
			return fmt.Errorf("unknown log level %q", flagLevel)
		}
		level = lvl
	}

	noColor, _ := parseBool(os.Getenv(EnvLogNoColor))
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	logger = zerolog.New(output).Level(level).With().Timestamp().Str("app", "sysexconf").Logger()
	log.Logger = logger
	return nil
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
