// Package log carries a leveled logger through context.Context.
//
// The CLI stores a *logrus.Logger with WithLogger; library code retrieves
// it with GetLogger and logs nothing when none was set.
package log

import "context"

type contextKey int

const loggerKey contextKey = iota

// Discard is a Logger that drops every message.
var Discard Logger = discardLogger{}

// Logger is the logging surface used by trustedts. *logrus.Logger and
// *logrus.Entry implement it.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Debugln(args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Infoln(args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Warnln(args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Errorln(args ...interface{})
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// GetLogger returns the Logger carried by ctx, or Discard.
func GetLogger(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok && logger != nil {
		return logger
	}
	return Discard
}

type discardLogger struct{}

func (discardLogger) Debug(...interface{})          {}
func (discardLogger) Debugf(string, ...interface{}) {}
func (discardLogger) Debugln(...interface{})        {}
func (discardLogger) Info(...interface{})           {}
func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Infoln(...interface{})         {}
func (discardLogger) Warn(...interface{})           {}
func (discardLogger) Warnf(string, ...interface{})  {}
func (discardLogger) Warnln(...interface{})         {}
func (discardLogger) Error(...interface{})          {}
func (discardLogger) Errorf(string, ...interface{}) {}
func (discardLogger) Errorln(...interface{})        {}
