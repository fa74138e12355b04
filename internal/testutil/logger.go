package testutil

import (
	"bytes"
	"io"
	"sync"

	"github.com/dtroode/faceid-server/internal/logger"
)

func MakeNoopLogger() *logger.Logger {
	return logger.NewWithWriter(io.Discard, 0)
}

// Buffer is a goroutine-safe writer for asserting on log output.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// MakeBufferLogger returns a debug-level logger writing into the returned Buffer.
func MakeBufferLogger() (*logger.Logger, *Buffer) {
	buf := &Buffer{}
	return logger.NewWithWriter(buf, -4), buf
}
