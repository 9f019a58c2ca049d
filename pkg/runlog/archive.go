package runlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-snapshot/pkg/hints"
	"github.com/paulschiretz/pgl-snapshot/pkg/util"
)

// ArchiveFormat is the compression used for archived daily logs.
type ArchiveFormat string

const (
	Zstd ArchiveFormat = "zstd"
	Gzip ArchiveFormat = "gzip"
)

var formatToString = map[ArchiveFormat]string{
	Zstd: "zstd",
	Gzip: "gzip",
}

var stringToFormat = util.InvertMap(formatToString)

var formatToExt = map[ArchiveFormat]string{
	Zstd: ".zst",
	Gzip: ".gz",
}

// ErrNothingToArchive is returned when no log file is old enough.
var ErrNothingToArchive = hints.New("no log files to archive")

// ErrArchiveDisabled is returned when archiving is switched off.
var ErrArchiveDisabled = hints.New("log archiving is disabled")

func (f ArchiveFormat) String() string {
	if str, ok := formatToString[f]; ok {
		return str
	}
	return fmt.Sprintf("unknown_archive_format(%s)", string(f))
}

// Ext returns the file extension appended to archived logs.
func (f ArchiveFormat) Ext() string {
	return formatToExt[f]
}

// ParseArchiveFormat parses a configuration value. The empty string maps to Zstd.
func ParseArchiveFormat(s string) (ArchiveFormat, error) {
	if s == "" {
		return Zstd, nil
	}
	if format, ok := stringToFormat[strings.ToLower(s)]; ok {
		return format, nil
	}
	return "", fmt.Errorf("invalid log archive format: %q. Must be 'zstd' or 'gzip'", s)
}

// parseLogDate extracts the day from a log_<yyyy-MM-dd>.txt file name.
func parseLogDate(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileExt) {
		return time.Time{}, false
	}
	datePart := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileExt)
	t, err := time.ParseInLocation(DateLayout, datePart, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Archive compresses every daily log in logDir whose date lies more than
// olderThanDays days before now. The original file is removed once its
// compressed copy has been written. It returns the archived file names and
// the joined errors of files that could not be archived.
func Archive(logDir string, now time.Time, olderThanDays int, format ArchiveFormat) ([]string, error) {
	if olderThanDays <= 0 {
		return nil, ErrArchiveDisabled
	}
	if _, ok := formatToExt[format]; !ok {
		return nil, fmt.Errorf("invalid log archive format: %s", format)
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory %s: %w", logDir, err)
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	cutoff := today.AddDate(0, 0, -olderThanDays)

	var archived []string
	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		day, ok := parseLogDate(entry.Name())
		if !ok || !day.Before(cutoff) {
			continue
		}
		src := filepath.Join(logDir, entry.Name())
		if err := compressFile(src, src+format.Ext(), format); err != nil {
			errs = append(errs, err)
			continue
		}
		archived = append(archived, entry.Name())
	}

	if len(errs) > 0 {
		return archived, errors.Join(errs...)
	}
	if len(archived) == 0 {
		return nil, ErrNothingToArchive
	}
	return archived, nil
}

// compressFile writes a compressed copy of src to dst through a temp file and
// removes src on success.
func compressFile(src, dst string, format ArchiveFormat) (retErr error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, util.UserWritableFilePerms)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	defer func() {
		if retErr != nil {
			out.Close()
			_ = os.Remove(tmp)
		}
	}()

	bufWriter := bufio.NewWriter(out)
	var compressedWriter io.WriteCloser
	switch format {
	case Zstd:
		zw, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zw
	default:
		gw, err := pgzip.NewWriterLevel(bufWriter, pgzip.BestCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = gw
	}

	if _, err := io.Copy(compressedWriter, in); err != nil {
		compressedWriter.Close()
		return fmt.Errorf("failed to compress %s: %w", src, err)
	}
	if err := compressedWriter.Close(); err != nil {
		return fmt.Errorf("compressed writer close failed: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("buffer flush failed: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", dst, err)
	}
	in.Close()
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("archived %s but failed to remove original: %w", src, err)
	}
	return nil
}
