package logger

import (
	"bytes"
	"io"
	"time"
)

type destinationSyslog struct {
	syslog io.WriteCloser
	buf    bytes.Buffer
}

func newDestinationSyslog() (destination, error) {
	syslog, err := newSyslog("ndi-router")
	if err != nil {
		return nil, err
	}

	return &destinationSyslog{
		syslog: syslog,
	}, nil
}

func (d *destinationSyslog) log(t time.Time, level Level, format string, args ...interface{}) {
	d.buf.Reset()
	writeTime(&d.buf, t, false)
	writeLevel(&d.buf, level, false)
	writeContent(&d.buf, format, args)
	d.syslog.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationSyslog) close() {
	d.syslog.Close()
}
