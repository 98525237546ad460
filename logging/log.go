// Package logging provides the application and access logging used by the
// proxy, backed by logrus.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger instances provide leveled logging. The proxy and its filters accept
// a Logger so that tests can capture output.
type Logger interface {

	// Log with level ERROR
	Error(...interface{})

	// Log formatted messages with level ERROR
	Errorf(string, ...interface{})

	// Log with level WARN
	Warn(...interface{})

	// Log formatted messages with level WARN
	Warnf(string, ...interface{})

	// Log with level INFO
	Info(...interface{})

	// Log formatted messages with level INFO
	Infof(string, ...interface{})

	// Log with level DEBUG
	Debug(...interface{})

	// Log formatted messages with level DEBUG
	Debugf(string, ...interface{})

	WithFields(map[string]interface{}) Logger
}

// DefaultLog provides the default implementation of the Logger interface,
// dispatching to the standard logrus logger.
type DefaultLog struct {
	fields logrus.Fields
}

func (dl *DefaultLog) entry() *logrus.Entry {
	return logrus.WithFields(dl.fields)
}

func (dl *DefaultLog) Error(a ...interface{})            { dl.entry().Error(a...) }
func (dl *DefaultLog) Errorf(f string, a ...interface{}) { dl.entry().Errorf(f, a...) }
func (dl *DefaultLog) Warn(a ...interface{})             { dl.entry().Warn(a...) }
func (dl *DefaultLog) Warnf(f string, a ...interface{})  { dl.entry().Warnf(f, a...) }
func (dl *DefaultLog) Info(a ...interface{})             { dl.entry().Info(a...) }
func (dl *DefaultLog) Infof(f string, a ...interface{})  { dl.entry().Infof(f, a...) }
func (dl *DefaultLog) Debug(a ...interface{})            { dl.entry().Debug(a...) }
func (dl *DefaultLog) Debugf(f string, a ...interface{}) { dl.entry().Debugf(f, a...) }

func (dl *DefaultLog) WithFields(fields map[string]interface{}) Logger {
	merged := make(logrus.Fields, len(dl.fields)+len(fields))
	for k, v := range dl.fields {
		merged[k] = v
	}

	for k, v := range fields {
		merged[k] = v
	}

	return &DefaultLog{fields: merged}
}

type prefixFormatter struct {
	prefix    string
	formatter logrus.Formatter
}

func (f *prefixFormatter) Format(e *logrus.Entry) ([]byte, error) {
	b, err := f.formatter.Format(e)
	if err != nil {
		return nil, err
	}

	return append([]byte(f.prefix), b...), nil
}

// Init options for logging.
type Options struct {

	// Prefix for application log entries. Primarily used to be able to
	// select between access log and application log entries.
	ApplicationLogPrefix string

	// Output for the application log entries, when nil, os.Stderr is used.
	ApplicationLogOutput io.Writer

	// Application log level: panic, fatal, error, warn, info, debug or
	// trace. When empty, the logrus default is kept.
	ApplicationLogLevel string

	// Output for the access log entries, when nil, os.Stderr is used.
	AccessLogOutput io.Writer

	// When set, no access log is printed.
	AccessLogDisabled bool

	// When set, the access log is printed in JSON format.
	AccessLogJSONEnabled bool
}

var accessLog *logrus.Logger

// Init initializes both the application and the access log according to
// the options.
func Init(o Options) error {
	if o.ApplicationLogLevel != "" {
		l, err := logrus.ParseLevel(o.ApplicationLogLevel)
		if err != nil {
			return err
		}

		logrus.SetLevel(l)
	}

	if o.ApplicationLogPrefix != "" {
		logrus.SetFormatter(&prefixFormatter{
			o.ApplicationLogPrefix, logrus.StandardLogger().Formatter})
	}

	if o.ApplicationLogOutput != nil {
		logrus.SetOutput(o.ApplicationLogOutput)
	}

	if o.AccessLogDisabled {
		accessLog = nil
		return nil
	}

	out := o.AccessLogOutput
	if out == nil {
		out = os.Stderr
	}

	l := logrus.New()
	if o.AccessLogJSONEnabled {
		l.Formatter = &logrus.JSONFormatter{}
	}

	l.Out = out
	l.Level = logrus.InfoLevel
	accessLog = l
	return nil
}

// AccessEntry represents one access log entry.
type AccessEntry struct {
	Method       string
	Path         string
	StatusCode   int
	ResponseSize int64
	RemoteAddr   string
	FlowID       string
	Duration     time.Duration
}

// LogAccess prints one entry to the access log, if enabled.
func LogAccess(e *AccessEntry) {
	if accessLog == nil || e == nil {
		return
	}

	accessLog.WithFields(logrus.Fields{
		"method":        e.Method,
		"path":          e.Path,
		"status":        e.StatusCode,
		"response-size": e.ResponseSize,
		"remote-addr":   e.RemoteAddr,
		"flow-id":       e.FlowID,
		"duration":      e.Duration.Milliseconds(),
	}).Info("access")
}
