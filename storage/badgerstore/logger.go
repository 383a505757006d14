package badgerstore

import (
	"fmt"
	"log/slog"
	"strings"
)

// SlogAdapter adapts slog.Logger to badger's Logger interface.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new slog adapter.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

func (l *SlogAdapter) Errorf(format string, v ...any) {
	l.logger.Error(trim(fmt.Sprintf(format, v...)))
}

func (l *SlogAdapter) Warningf(format string, v ...any) {
	l.logger.Warn(trim(fmt.Sprintf(format, v...)))
}

func (l *SlogAdapter) Infof(format string, v ...any) {
	l.logger.Info(trim(fmt.Sprintf(format, v...)))
}

func (l *SlogAdapter) Debugf(format string, v ...any) {
	l.logger.Debug(trim(fmt.Sprintf(format, v...)))
}

// badger terminates its log lines; slog adds its own newline.
func trim(s string) string {
	return strings.TrimRight(s, "\n")
}
