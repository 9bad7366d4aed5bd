// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/proxyfleet/dispatcher/internal/core/ports"
	"github.com/proxyfleet/dispatcher/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting methods for the
// dispatcher's node/breaker/queue vocabulary.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme.
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Counts.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

// InfoWithNode logs an info message highlighting a node's display name.
func (sl *StyledLogger) InfoWithNode(msg string, node string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Node.Sprint(node))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithNode(msg string, node string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Node.Sprint(node))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithNode(msg string, node string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Node.Sprint(node))
	sl.logger.Error(styledMsg, args...)
}

// InfoBreakerClosed/WarnBreakerOpen/InfoBreakerHalfOpen log a breaker transition for a node id.
func (sl *StyledLogger) InfoBreakerClosed(msg string, nodeID int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.BreakerClosed.Sprintf("node=%d", nodeID))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnBreakerOpen(msg string, nodeID int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.BreakerOpen.Sprintf("node=%d", nodeID))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) InfoBreakerHalfOpen(msg string, nodeID int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.BreakerHalfOpen.Sprintf("node=%d", nodeID))
	sl.logger.Info(styledMsg, args...)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct access is needed.
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// With creates a new StyledLogger with additional key-value pairs.
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// NewWithTheme creates both a regular logger and a styled logger.
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logger, appTheme)

	return logger, styledLogger, cleanup, nil
}

var _ ports.Logger = (*StyledLogger)(nil)
