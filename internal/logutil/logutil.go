// Package logutil holds helpers for subsystem loggers.
package logutil

import (
	"fmt"

	"github.com/decred/slog"
)

// prefixLogger prepends a fixed prefix to every log line. Level handling is
// delegated to the wrapped logger.
type prefixLogger struct {
	slog.Logger
	prefix string
}

func (p *prefixLogger) Tracef(format string, params ...interface{}) {
	p.Logger.Tracef(p.prefix+format, params...)
}

func (p *prefixLogger) Debugf(format string, params ...interface{}) {
	p.Logger.Debugf(p.prefix+format, params...)
}

func (p *prefixLogger) Infof(format string, params ...interface{}) {
	p.Logger.Infof(p.prefix+format, params...)
}

func (p *prefixLogger) Warnf(format string, params ...interface{}) {
	p.Logger.Warnf(p.prefix+format, params...)
}

func (p *prefixLogger) Errorf(format string, params ...interface{}) {
	p.Logger.Errorf(p.prefix+format, params...)
}

func (p *prefixLogger) Criticalf(format string, params ...interface{}) {
	p.Logger.Criticalf(p.prefix+format, params...)
}

func (p *prefixLogger) Trace(v ...interface{}) {
	p.Logger.Trace(p.prefix + fmt.Sprint(v...))
}

func (p *prefixLogger) Debug(v ...interface{}) {
	p.Logger.Debug(p.prefix + fmt.Sprint(v...))
}

func (p *prefixLogger) Info(v ...interface{}) {
	p.Logger.Info(p.prefix + fmt.Sprint(v...))
}

func (p *prefixLogger) Warn(v ...interface{}) {
	p.Logger.Warn(p.prefix + fmt.Sprint(v...))
}

func (p *prefixLogger) Error(v ...interface{}) {
	p.Logger.Error(p.prefix + fmt.Sprint(v...))
}

func (p *prefixLogger) Critical(v ...interface{}) {
	p.Logger.Critical(p.prefix + fmt.Sprint(v...))
}

// PrefixLogger returns a logger that prefixes every line with prefix
// (followed by a space).
func PrefixLogger(log slog.Logger, prefix string) slog.Logger {
	if log == nil {
		return slog.Disabled
	}
	return &prefixLogger{Logger: log, prefix: prefix + " "}
}

// SessionLogger returns a logger that tags lines with the coaching session
// they refer to.
func SessionLogger(log slog.Logger, sessionRef string) slog.Logger {
	return PrefixLogger(log, fmt.Sprintf("[session %s]", sessionRef))
}
