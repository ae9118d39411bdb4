// Package logx builds the bridge logger: leveled console output plus an
// optional size-capped log file.
package logx

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	ConsoleLevel string
	FileLevel    string
	FilePath     string
	MaxBytes     int64
}

// New returns the root logger and a close function for the file writer.
func New(options Options) (zerolog.Logger, func() error) {
	consoleLevel := parseLevel(options.ConsoleLevel, zerolog.InfoLevel)
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	writers := []io.Writer{leveledWriter{w: console, level: consoleLevel}}
	closeFn := func() error { return nil }

	if options.FilePath != "" {
		fileLevel := parseLevel(options.FileLevel, zerolog.DebugLevel)
		capped, err := newCappedFile(options.FilePath, options.MaxBytes)
		if err == nil {
			writers = append(writers, leveledWriter{w: capped, level: fileLevel})
			closeFn = capped.Close
		} else {
			console.Write([]byte("logx: cannot open log file " + options.FilePath + ": " + err.Error() + "\n"))
		}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Logger()
	return logger, closeFn
}

func parseLevel(name string, def zerolog.Level) zerolog.Level {
	if name == "" {
		return def
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return def
	}
	return level
}

// leveledWriter filters log lines below its level.
type leveledWriter struct {
	w     io.Writer
	level zerolog.Level
}

func (lw leveledWriter) Write(p []byte) (int, error) {
	return lw.w.Write(p)
}

// WriteLevel implements zerolog.LevelWriter.
func (lw leveledWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < lw.level {
		return len(p), nil
	}
	return lw.w.Write(p)
}

// cappedFile truncates and reopens the log file once it exceeds maxBytes.
type cappedFile struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	file     *os.File
	written  int64
}

func newCappedFile(path string, maxBytes int64) (*cappedFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &cappedFile{path: path, maxBytes: maxBytes, file: file, written: info.Size()}, nil
}

func (c *cappedFile) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes > 0 && c.written+int64(len(p)) > c.maxBytes {
		c.file.Close()
		file, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return 0, err
		}
		c.file = file
		c.written = 0
	}

	n, err := c.file.Write(p)
	c.written += int64(n)
	return n, err
}

func (c *cappedFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}
