package runlog

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-snapshot/pkg/hints"
)

func writeLog(t *testing.T, dir string, day time.Time, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName(day))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}
	return path
}

func TestParseArchiveFormat(t *testing.T) {
	testCases := []struct {
		in      string
		want    ArchiveFormat
		wantErr bool
	}{
		{in: "", want: Zstd},
		{in: "zstd", want: Zstd},
		{in: "GZIP", want: Gzip},
		{in: "zip", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseArchiveFormat(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestArchive(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)

	t.Run("Disabled", func(t *testing.T) {
		_, err := Archive(t.TempDir(), now, 0, Zstd)
		if !errors.Is(err, ErrArchiveDisabled) || !hints.IsHint(err) {
			t.Errorf("expected ErrArchiveDisabled hint, got %v", err)
		}
	})

	t.Run("Nothing old enough", func(t *testing.T) {
		dir := t.TempDir()
		writeLog(t, dir, now, "today")
		_, err := Archive(dir, now, 7, Zstd)
		if !errors.Is(err, ErrNothingToArchive) {
			t.Errorf("expected ErrNothingToArchive, got %v", err)
		}
	})

	for _, format := range []ArchiveFormat{Zstd, Gzip} {
		t.Run("Compresses old logs with "+format.String(), func(t *testing.T) {
			dir := t.TempDir()
			old := writeLog(t, dir, now.AddDate(0, 0, -8), "08:00:00 - old entry\n")
			recent := writeLog(t, dir, now.AddDate(0, 0, -2), "08:00:00 - recent\n")
			if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0644); err != nil {
				t.Fatal(err)
			}

			archived, err := Archive(dir, now, 7, format)
			if err != nil {
				t.Fatalf("Archive failed: %v", err)
			}
			if len(archived) != 1 || archived[0] != filepath.Base(old) {
				t.Fatalf("expected only %s to be archived, got %v", filepath.Base(old), archived)
			}
			if _, err := os.Stat(old); !os.IsNotExist(err) {
				t.Errorf("expected original log to be removed")
			}
			if _, err := os.Stat(recent); err != nil {
				t.Errorf("expected recent log to be untouched: %v", err)
			}

			f, err := os.Open(old + format.Ext())
			if err != nil {
				t.Fatalf("archived file missing: %v", err)
			}
			defer f.Close()

			var r io.Reader
			if format == Zstd {
				zr, err := zstd.NewReader(f)
				if err != nil {
					t.Fatal(err)
				}
				defer zr.Close()
				r = zr
			} else {
				gr, err := pgzip.NewReader(f)
				if err != nil {
					t.Fatal(err)
				}
				defer gr.Close()
				r = gr
			}
			content, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("failed to decompress: %v", err)
			}
			if string(content) != "08:00:00 - old entry\n" {
				t.Errorf("unexpected decompressed content: %q", content)
			}
		})
	}
}
