package logger

import (
	"time"
)

const (
	limitedLoggerPeriod = 1 * time.Second
)

type limitedLogger struct {
	w Writer

	last time.Time
}

// NewLimitedLogger returns a Writer that drops messages
// that are logged with too high frequency.
func NewLimitedLogger(w Writer) Writer {
	return &limitedLogger{
		w: w,
	}
}

func (l *limitedLogger) Log(level Level, format string, args ...interface{}) {
	now := time.Now()
	if now.Sub(l.last) >= limitedLoggerPeriod {
		l.last = now
		l.w.Log(level, format, args...)
	}
}
