//go:build !windows
// +build !windows

package logger

import (
	"io"
	native "log/syslog"
)

// entries carry their own level prefix; the daemon facility
// with a single priority is enough for journal filtering by tag.
const syslogPriority = native.LOG_INFO | native.LOG_DAEMON

type syslogWriter struct {
	inner *native.Writer
}

func newSyslog(tag string) (io.WriteCloser, error) {
	inner, err := native.New(syslogPriority, tag)
	if err != nil {
		return nil, err
	}

	return &syslogWriter{
		inner: inner,
	}, nil
}

func (w *syslogWriter) Close() error {
	return w.inner.Close()
}

func (w *syslogWriter) Write(p []byte) (int, error) {
	return w.inner.Write(p)
}
