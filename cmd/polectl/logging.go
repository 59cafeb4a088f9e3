package main

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/buendiya/NicanPython/config"
)

// newLogger builds the controller logger. Frame dumps go to the rotating
// log file when one is configured; stderr only sees them in verbose mode.
func newLogger(cfg config.LogConfig) (*log.Logger, io.Closer) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		writers = append(writers, rotator)
		closer = rotator
	}
	if cfg.Verbose {
		writers = append(writers, os.Stderr)
	}
	if len(writers) == 0 {
		return log.New(io.Discard, "", 0), closer
	}

	return log.New(io.MultiWriter(writers...), "polectl: ", log.LstdFlags|log.Lmicroseconds), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
