package logger

import (
	"bytes"
	"os"
	"time"
)

// destinationFile appends entries to the log file named in the
// configuration. Colors are never used, the file must stay grep-able.
type destinationFile struct {
	fp  *os.File
	buf bytes.Buffer
}

func newDestinationFile(filePath string) (destination, error) {
	fp, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	return &destinationFile{
		fp: fp,
	}, nil
}

func (d *destinationFile) log(t time.Time, level Level, format string, args ...interface{}) {
	d.buf.Reset()
	writeTime(&d.buf, t, false)
	writeLevel(&d.buf, level, false)
	writeContent(&d.buf, format, args)
	d.fp.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationFile) close() {
	d.fp.Sync() //nolint:errcheck
	d.fp.Close()
}
