package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	charmLog "github.com/charmbracelet/log"
)

type Options struct {
	Level  string
	Format string
	Writer io.Writer
	Prefix string
}

// New builds the process logger. Format is text (styled), logfmt or json.
func New(opts Options) (*charmLog.Logger, error) {
	levelName := opts.Level
	if levelName == "" {
		levelName = "info"
	}
	level, err := charmLog.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", opts.Level, err)
	}
	var formatter charmLog.Formatter
	switch opts.Format {
	case "", "text":
		formatter = charmLog.TextFormatter
	case "logfmt":
		formatter = charmLog.LogfmtFormatter
	case "json":
		formatter = charmLog.JSONFormatter
	default:
		return nil, fmt.Errorf("unknown logging format %q", opts.Format)
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	return charmLog.NewWithOptions(w, charmLog.Options{
		Level:           level,
		Prefix:          opts.Prefix,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	}), nil
}

// Discard returns a logger that drops everything.
func Discard() *charmLog.Logger {
	return charmLog.NewWithOptions(io.Discard, charmLog.Options{Level: charmLog.FatalLevel})
}
