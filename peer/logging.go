package peer

import (
	"github.com/pion/logging"
	log "github.com/sirupsen/logrus"
)

// LogrusFactory routes pion's scoped loggers into logrus. A nil Logger
// means the logrus standard logger.
type LogrusFactory struct {
	Logger *log.Logger
}

var _ logging.LoggerFactory = LogrusFactory{}

// NewLogger implements logging.LoggerFactory.
func (f LogrusFactory) NewLogger(scope string) logging.LeveledLogger {
	base := f.Logger
	if base == nil {
		base = log.StandardLogger()
	}
	return logrusLogger{entry: base.WithField("scope", scope)}
}

type logrusLogger struct {
	entry *log.Entry
}

func (l logrusLogger) Trace(msg string)                  { l.entry.Trace(msg) }
func (l logrusLogger) Tracef(format string, args ...any) { l.entry.Tracef(format, args...) }
func (l logrusLogger) Debug(msg string)                  { l.entry.Debug(msg) }
func (l logrusLogger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l logrusLogger) Info(msg string)                   { l.entry.Info(msg) }
func (l logrusLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l logrusLogger) Warn(msg string)                   { l.entry.Warn(msg) }
func (l logrusLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l logrusLogger) Error(msg string)                  { l.entry.Error(msg) }
func (l logrusLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
