package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-snapshot/pkg/mirror"
	"github.com/paulschiretz/pgl-snapshot/pkg/runlog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config file: %v", err)
	}
	return path
}

func validFile(t *testing.T) File {
	t.Helper()
	f := NewDefault()
	f.Volume = t.TempDir()
	f.BackupFolder = "Backups"
	f.LogDir = "Logs"
	f.Source = t.TempDir()
	return f
}

func TestLoad(t *testing.T) {
	t.Run("Valid Config File", func(t *testing.T) {
		path := writeConfig(t, "volume: /mnt/usb\nbackupFolder: Desktop\nlogDir: Logs\nretentionCount: 7\nshutdownOnCompletion: 1\n")
		f, err := Load(path)
		if err != nil {
			t.Fatalf("expected no error when loading valid config, but got: %v", err)
		}
		if f.Volume != "/mnt/usb" || f.BackupFolder != "Desktop" || f.RetentionCount != "7" {
			t.Errorf("unexpected values: %+v", f)
		}
		// Check that a default value not in the file is still present
		if f.Source != DefaultSource || f.DeleteWorkers != DefaultDeleteWorkers {
			t.Errorf("expected defaults for missing keys, got source=%q deleteWorkers=%d", f.Source, f.DeleteWorkers)
		}
	})

	t.Run("Environment placeholders", func(t *testing.T) {
		t.Setenv("PGL_TEST_VOLUME", "/media/backup")
		path := writeConfig(t, "volume: $(PGL_TEST_VOLUME)\nbackupFolder: B\nlogDir: L\n")
		f, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if f.Volume != "/media/backup" {
			t.Errorf("expected placeholder to be expanded, got %q", f.Volume)
		}
	})

	t.Run("Empty file yields defaults", func(t *testing.T) {
		f, err := Load(writeConfig(t, ""))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if f.RetentionCount != "10000" {
			t.Errorf("expected default retention, got %q", f.RetentionCount)
		}
	})

	t.Run("Unknown key", func(t *testing.T) {
		if _, err := Load(writeConfig(t, "volme: /mnt/usb\n")); err == nil {
			t.Fatal("expected an error for an unknown key")
		}
	})

	t.Run("Malformed Config File", func(t *testing.T) {
		if _, err := Load(writeConfig(t, "volume: [unclosed\n")); err == nil {
			t.Fatal("expected an error when loading malformed config, but got nil")
		}
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err == nil || !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected a not-exist error, got %v", err)
		}
	})
}

func TestResolve(t *testing.T) {
	t.Run("Valid Config", func(t *testing.T) {
		f := validFile(t)
		f.RetentionCount = "5"
		f.ShutdownOnCompletion = "1"
		f.LogArchiveFormat = "gzip"

		c, err := f.Resolve("cfg.yaml", true)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if c.DestinationRoot != filepath.Join(f.Volume, "Backups") || c.LogDir != filepath.Join(f.Volume, "Logs") {
			t.Errorf("unexpected layout: %+v", c)
		}
		if c.RetentionCount != 5 || !c.ShutdownOnCompletion || !c.DryRun {
			t.Errorf("unexpected values: %+v", c)
		}
		if c.MirrorEngine != mirror.Auto || c.RetryWait != time.Second || c.LogArchiveFormat != runlog.Gzip {
			t.Errorf("unexpected values: %+v", c)
		}
	})

	for _, key := range []string{"volume", "backupFolder", "logDir"} {
		t.Run("Missing "+key, func(t *testing.T) {
			f := validFile(t)
			switch key {
			case "volume":
				f.Volume = ""
			case "backupFolder":
				f.BackupFolder = ""
			case "logDir":
				f.LogDir = ""
			}
			_, err := f.Resolve("", false)
			cfgErr, ok := errors.AsType[*ConfigurationError](err)
			if !ok || cfgErr.Key != key {
				t.Fatalf("expected ConfigurationError for %s, got %v", key, err)
			}
		})
	}

	t.Run("Invalid engine", func(t *testing.T) {
		f := validFile(t)
		f.MirrorEngine = "xcopy"
		if _, ok := errors.AsType[*ConfigurationError](func() error { _, err := f.Resolve("", false); return err }()); !ok {
			t.Error("expected ConfigurationError for an invalid engine")
		}
	})

	t.Run("Zero delete workers", func(t *testing.T) {
		f := validFile(t)
		f.DeleteWorkers = 0
		if _, err := f.Resolve("", false); err == nil {
			t.Error("expected error for zero delete workers, but got nil")
		}
	})

	t.Run("Destination inside source", func(t *testing.T) {
		f := validFile(t)
		f.Source = f.Volume
		_, err := f.Resolve("", false)
		if err == nil || !strings.Contains(err.Error(), "inside the source") {
			t.Errorf("expected nesting error, got %v", err)
		}
	})
}

func TestRetentionCountFallback(t *testing.T) {
	testCases := []struct {
		raw  Lenient
		want int
	}{
		{raw: "", want: DefaultRetentionCount},
		{raw: "abc", want: DefaultRetentionCount},
		{raw: "0", want: DefaultRetentionCount},
		{raw: "-3", want: DefaultRetentionCount},
		{raw: "2.5", want: DefaultRetentionCount},
		{raw: " 30 ", want: 30},
		{raw: "1", want: 1},
	}
	for _, tc := range testCases {
		t.Run(string(tc.raw), func(t *testing.T) {
			if got := resolveRetentionCount(tc.raw); got != tc.want {
				t.Errorf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestShutdownFlag(t *testing.T) {
	testCases := []struct {
		raw  Lenient
		want bool
	}{
		{raw: "1", want: true},
		{raw: "0", want: false},
		{raw: "2", want: false},
		{raw: "", want: false},
		{raw: "true", want: true},
		{raw: "nope", want: false},
	}
	for _, tc := range testCases {
		if got := resolveFlag(tc.raw); got != tc.want {
			t.Errorf("resolveFlag(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	f := NewDefault()
	f.Volume = "/mnt/usb"
	f.BackupFolder = "Backups"
	f.LogDir = "Logs"

	if err := Generate(path, f, false); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# Number of snapshots to keep") {
		t.Errorf("expected key comments in generated file:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load of generated file failed: %v", err)
	}
	if loaded.Volume != f.Volume || loaded.RetentionCount != f.RetentionCount {
		t.Errorf("generated config did not load back: %+v", loaded)
	}

	if err := Generate(path, f, false); err == nil {
		t.Error("expected an error when the file exists and overwrite is false")
	}
	if err := Generate(path, f, true); err != nil {
		t.Errorf("expected overwrite to succeed, got %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	original := getExecutableDir
	t.Cleanup(func() { getExecutableDir = original })
	getExecutableDir = func() (string, error) { return "/opt/pgl", nil }

	got, err := DefaultPath()
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join("/opt/pgl", FileName) {
		t.Errorf("unexpected default path %s", got)
	}
}
