package logger

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger records streamed interval-data lines to text files with automatic
// rotation. The first line written after New or Close is taken as the stream
// header and repeated at the top of every rotated file.
type Logger struct {
	mu       sync.Mutex
	dir      string
	maxLines int
	enabled  bool

	file    *os.File
	writer  *bufio.Writer
	header  string
	lines   int
	fileSeq int
	now     func() time.Time
}

// Config holds logger configuration.
type Config struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	MaxLines int    `yaml:"max_lines" json:"maxLines"`
}

const (
	defaultDir      = "/var/log/sshdlink"
	defaultMaxLines = 50_000 // ~35 days of one-minute intervals on one lane
)

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = defaultDir
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = defaultMaxLines
	}
	return &Logger{
		dir:      cfg.Path,
		maxLines: cfg.MaxLines,
		enabled:  cfg.Enabled,
		now:      time.Now,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// WriteLine appends one line, opening or rotating the file as needed.
func (l *Logger) WriteLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return nil
	}
	if l.header == "" {
		l.header = line
		if l.writer != nil {
			l.closeFile()
		}
	}

	if l.writer == nil || l.lines >= l.maxLines {
		if err := l.rotateFile(l.now()); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return err
		}
		if line == l.header {
			return nil
		}
	}

	if err := l.writeLine(line); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return err
	}
	return nil
}

// Close flushes and closes the current log file. The next line written
// starts a new stream.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.header = ""
	return l.closeFile()
}

func (l *Logger) writeLine(line string) error {
	if _, err := l.writer.WriteString(line + "\n"); err != nil {
		return err
	}
	l.lines++
	return l.writer.Flush()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	l.fileSeq++
	filename := fmt.Sprintf("sshdlink_%s_%03d.txt", now.Format("2006-01-02_150405"), l.fileSeq)
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = bufio.NewWriter(f)
	l.lines = 0

	// Write header
	if l.header != "" {
		if err := l.writeLine(l.header); err != nil {
			return err
		}
	}

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() error {
	var err error
	if l.writer != nil {
		err = l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		if cerr := l.file.Close(); err == nil {
			err = cerr
		}
		l.file = nil
	}
	return err
}
