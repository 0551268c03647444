package log

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// RawLogger records USB/IP traffic as it crosses the socket.
type RawLogger interface {
	// Log records one chunk. in is true for host to device traffic.
	Log(in bool, data []byte)
}

type rawLogger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewRaw returns a RawLogger writing one line per chunk to w. A nil writer
// yields a logger that drops everything.
func NewRaw(w io.Writer) RawLogger {
	return &rawLogger{w: w, now: time.Now}
}

func (r *rawLogger) Log(in bool, data []byte) {
	if r.w == nil || len(data) == 0 {
		return
	}
	dir := "dev->host"
	if in {
		dir = "host->dev"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.w, "%s %s %4d bytes: % x\n",
		r.now().Format("2006/01/02 15:04:05.000"), dir, len(data), data)
}
