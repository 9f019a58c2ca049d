// Package runlog writes the human readable run log. Every entry is a single
// "HH:MM:SS - message" line that is echoed to the console and appended to a
// per-day log file on the backup volume.
//
// The file is opened and closed for every line. The mirroring utility appends
// its own output to the same file while a run is in progress, so the logger
// never holds the file open across a subprocess invocation.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/paulschiretz/pgl-snapshot/pkg/util"
)

const (
	// FilePrefix and FileExt frame the date in a daily log file name.
	FilePrefix = "log_"
	FileExt    = ".txt"

	// DateLayout is the layout of the date part of log and snapshot names.
	DateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// FileName returns the log file name for the given calendar day.
func FileName(date time.Time) string {
	return FilePrefix + date.Format(DateLayout) + FileExt
}

// Logger records run events. It is safe for concurrent use; pruning workers
// record deletions from multiple goroutines.
type Logger struct {
	mu          sync.Mutex
	dir         string
	path        string
	console     io.Writer
	clock       clock.Clock
	fileEnabled bool
}

// New creates a Logger for the day given by date. Until EnableFile is called
// entries only go to the console.
func New(logDir string, date time.Time, console io.Writer, clk clock.Clock) *Logger {
	if console == nil {
		console = io.Discard
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Logger{
		dir:     logDir,
		path:    filepath.Join(logDir, FileName(date)),
		console: console,
		clock:   clk,
	}
}

// Path returns the absolute path of the daily log file.
func (l *Logger) Path() string {
	return l.path
}

// Dir returns the log directory.
func (l *Logger) Dir() string {
	return l.dir
}

// EnableFile creates the log directory if needed and starts appending
// entries to the daily log file.
func (l *Logger) EnableFile() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", l.dir, err)
	}
	l.fileEnabled = true
	return nil
}

// FileEnabled reports whether entries are currently appended to the log file.
func (l *Logger) FileEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileEnabled
}

// Record writes one entry. Optional args are key/value pairs appended as
// key=value. A failed console write is ignored; a failed file write is
// returned and must be treated as fatal for the run.
func (l *Logger) Record(msg string, args ...any) error {
	line := l.clock.Now().Format(timeLayout) + " - " + msg + formatArgs(args) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()

	_, _ = io.WriteString(l.console, line)

	if !l.fileEnabled {
		return nil
	}
	return appendLine(l.dir, l.path, line)
}

func appendLine(dir, path, line string) (retErr error) {
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, util.UserWritableFilePerms)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("failed to close log file %s: %w", path, err)
		}
	}()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to write log file %s: %w", path, err)
	}
	return nil
}

// formatArgs renders slog-style key/value pairs. A trailing key without a
// value is reported under !BADKEY, the way log/slog does it.
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(args); i += 2 {
		b.WriteByte(' ')
		if i+1 >= len(args) {
			b.WriteString("!BADKEY=")
			b.WriteString(formatValue(args[i]))
			break
		}
		b.WriteString(fmt.Sprint(args[i]))
		b.WriteByte('=')
		b.WriteString(formatValue(args[i+1]))
	}
	return b.String()
}

func formatValue(v any) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return strconv.Quote(s)
	}
	return s
}
