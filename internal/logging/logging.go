// Package logging builds the application logger and routes the library's
// debug output into it.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/marcuoli/go-piremote/internal/config"
	"github.com/marcuoli/go-piremote/pkg/piremote"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// New creates a logrus logger from cfg. The returned closer releases the
// log file, if any.
func New(cfg config.LogConfig) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)

	if err := setFormatter(logger, cfg.Format); err != nil {
		return nil, nil, err
	}
	closer, err := setOutput(logger, cfg)
	if err != nil {
		return nil, nil, err
	}
	return logger, closer, nil
}

func setFormatter(logger *logrus.Logger, format string) error {
	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		})
	default:
		return fmt.Errorf("unsupported log format: %s", format)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func setOutput(logger *logrus.Logger, cfg config.LogConfig) (io.Closer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr", "":
		logger.SetOutput(os.Stderr)
	case "file":
		if cfg.File == "" {
			return nil, fmt.Errorf("file path is required when output is file")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		logger.SetOutput(rotator)
		return rotator, nil
	default:
		return nil, fmt.Errorf("unsupported log output: %s", cfg.Output)
	}
	return nopCloser{}, nil
}

// InstallDebugSink routes library debug messages to logger at debug level,
// tagged with the component and its prefix.
func InstallDebugSink(logger *logrus.Logger, level piremote.DebugLevel) {
	if level == piremote.DebugOff {
		piremote.SetDebugLogger(nil)
		piremote.SetDebugLevel(piremote.DebugOff)
		return
	}
	// Library debug output is useless if logrus filters it out.
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		logger.SetLevel(logrus.DebugLevel)
	}
	piremote.SetDebugLevel(level)
	piremote.SetDebugLogger(func(c piremote.Component, format string, args ...interface{}) {
		logger.WithField("component", string(c)).
			Debugf(piremote.ComponentPrefix(c)+" "+format, args...)
	})
}
