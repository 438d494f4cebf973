// Package logx builds the process-wide zerolog logger.
package logx

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a console logger at the given level ("debug", "info",
// "warn", ...). An unknown or empty level falls back to info.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		// Extract just the filename, not the full path
		short := file
		for i := len(file) - 1; i > 0; i-- {
			if file[i] == '/' {
				short = file[i+1:]
				break
			}
		}
		// Pad to 28 characters for alignment
		return fmt.Sprintf("%-28s", fmt.Sprintf("%s:%d", short, line))
	}
	return zerolog.New(output).Level(lvl).With().Timestamp().Caller().Logger()
}
