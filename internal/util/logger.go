// Package util provides utility functions used throughout viabridge.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// InitLogger initializes the zerolog global logger with file and console output.
// An empty Directory disables the file writer.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	logFilePath := ""

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
		}

		logFileName := fmt.Sprintf("viabridge_%s.log", time.Now().Format("2006-01-02"))
		logFilePath = filepath.Join(cfg.Directory, logFileName)

		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
		}

		// File writer (JSON format for machine parsing)
		writers = append(writers, logFile)
	}

	if cfg.Console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	multi := zerolog.MultiLevelWriter(writers...)

	log.Logger = zerolog.New(multi).
		With().
		Timestamp().
		Str("app", "viabridge").
		Caller().
		Logger()

	log.Debug().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	if cfg.Directory != "" {
		go cleanOldLogs(cfg.Directory, cfg.MaxBackups)
	}

	return nil
}

// cleanOldLogs removes the oldest log files beyond the retention limit.
func cleanOldLogs(directory string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	type logFile struct {
		path    string
		modTime time.Time
	}

	var files []logFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{
			path:    filepath.Join(directory, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	if len(files) <= maxBackups {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	for _, f := range files[:len(files)-maxBackups] {
		if err := os.Remove(f.path); err == nil {
			log.Debug().Str("file", f.path).Msg("removed old log file")
		}
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
