package utils

import (
	"bytes"
	"log"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const fuseLogMessageDelim = '\n'

// NewFuseLogger adapts the zap logger to the *log.Logger go-fuse expects.
func NewFuseLogger() *log.Logger {
	adp := &fuseLogAdaptor{l: NewLogger("fuse")}
	return log.New(adp, "", 0)
}

type fuseLogAdaptor struct {
	mu sync.Mutex
	b  bytes.Buffer
	l  *zap.SugaredLogger
}

func (f *fuseLogAdaptor) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.b.Write(p)
	for {
		line, readErr := f.b.ReadString(fuseLogMessageDelim)
		if readErr != nil {
			// incomplete line, keep it for the next write
			f.b.Reset()
			f.b.WriteString(line)
			break
		}
		if msg := strings.TrimSpace(line); msg != "" {
			f.l.Info(msg)
		}
	}
	return n, err
}
