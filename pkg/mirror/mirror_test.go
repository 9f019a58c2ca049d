package mirror

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/juju/clock"

	"github.com/paulschiretz/pgl-snapshot/pkg/command/commandtest"
)

func TestParseEngine(t *testing.T) {
	testCases := []struct {
		in      string
		want    Engine
		wantErr bool
	}{
		{in: "", want: Auto},
		{in: "auto", want: Auto},
		{in: "Robocopy", want: Robocopy},
		{in: "rsync", want: Rsync},
		{in: "xcopy", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseEngine(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestEngineResolve(t *testing.T) {
	if got := Auto.Resolve("windows"); got != Robocopy {
		t.Errorf("expected robocopy on windows, got %s", got)
	}
	if got := Auto.Resolve("linux"); got != Rsync {
		t.Errorf("expected rsync on linux, got %s", got)
	}
	if got := Rsync.Resolve("windows"); got != Rsync {
		t.Errorf("explicit engine must not be overridden, got %s", got)
	}
}

func TestRobocopyArgs(t *testing.T) {
	opts := Options{RetryCount: 1, RetryWait: time.Second}

	t.Run("Full copy", func(t *testing.T) {
		job := Job{Source: `C:\Users\me\Desktop`, Destination: `E:\B\Backup_2024-01-02`, LogPath: `E:\L\log_2024-01-02.txt`, Mode: Full}
		want := []string{`C:\Users\me\Desktop`, `E:\B\Backup_2024-01-02`, "/E", "/R:1", "/W:1", "/NP", `/LOG+:E:\L\log_2024-01-02.txt`}
		if got := robocopyArgs(job, opts); !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("Incremental mirror", func(t *testing.T) {
		job := Job{Source: "src", Destination: "dst", LogPath: "log", Mode: Incremental, Excludes: []string{`E:\B\PreviousBackup`}}
		want := []string{"src", "dst", "/MIR", "/XO", "/FFT", "/R:1", "/W:1", "/NP", "/XD", `E:\B\PreviousBackup`, "/LOG+:log"}
		if got := robocopyArgs(job, opts); !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("Dry run lists only", func(t *testing.T) {
		got := robocopyArgs(Job{Source: "s", Destination: "d"}, Options{DryRun: true})
		if !slices.Contains(got, "/L") {
			t.Errorf("expected /L in dry run, got %v", got)
		}
	})
}

func TestClassifyRobocopy(t *testing.T) {
	testCases := []struct {
		code int
		want Status
	}{
		{0, Success},
		{1, Success},
		{2, Advisory},
		{3, Advisory},
		{4, Advisory},
		{7, Advisory},
		{8, Fatal},
		{9, Fatal},
		{16, Fatal},
		{-1, Fatal},
	}
	for _, tc := range testCases {
		if got, _ := classifyRobocopy(tc.code); got != tc.want {
			t.Errorf("classifyRobocopy(%d) = %s, want %s", tc.code, got, tc.want)
		}
	}
}

func TestRsyncArgs(t *testing.T) {
	src := filepath.Join("/home", "me", "Desktop")

	t.Run("Full copy", func(t *testing.T) {
		job := Job{Source: src, Destination: "/mnt/usb/B/Backup_2024-01-02", LogPath: "/mnt/usb/L/log.txt", Mode: Full}
		want := []string{"-rlt", "--quiet", "--log-file=/mnt/usb/L/log.txt", src + "/", "/mnt/usb/B/Backup_2024-01-02/"}
		if got := rsyncArgs(job, Options{}); !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("Incremental mirror", func(t *testing.T) {
		job := Job{Source: src, Destination: "/d", Mode: Incremental, Excludes: []string{"/mnt/usb/B/PreviousBackup"}}
		got := rsyncArgs(job, Options{DryRun: true})
		for _, flag := range []string{"--dry-run", "--delete", "--update", "--modify-window=2", "--exclude=/mnt/usb/B/PreviousBackup"} {
			if !slices.Contains(got, flag) {
				t.Errorf("expected %s in %v", flag, got)
			}
		}
	})
}

func TestRsyncExclude(t *testing.T) {
	src := filepath.FromSlash("/home/me/Desktop")
	if got := rsyncExclude(src, filepath.Join(src, "sub", "PreviousBackup")); got != "/sub/PreviousBackup" {
		t.Errorf("expected anchored exclude, got %s", got)
	}
	outside := filepath.FromSlash("/mnt/usb/PreviousBackup")
	if got := rsyncExclude(src, outside); got != outside {
		t.Errorf("expected outside path unchanged, got %s", got)
	}
}

func TestClassifyRsync(t *testing.T) {
	testCases := []struct {
		code int
		want Status
	}{
		{0, Success},
		{24, Advisory},
		{23, Fatal},
		{1, Fatal},
		{99, Fatal},
	}
	for _, tc := range testCases {
		if got, _ := classifyRsync(tc.code); got != tc.want {
			t.Errorf("classifyRsync(%d) = %s, want %s", tc.code, got, tc.want)
		}
	}
}

func TestRunnerRobocopy(t *testing.T) {
	job := Job{Source: "s", Destination: "d", Mode: Full}

	t.Run("Advisory exit code is not fatal", func(t *testing.T) {
		fake := commandtest.NewRunner().On("robocopy", commandtest.Response{ExitCode: 3})
		r := newRunnerFor(fake, Options{Engine: Auto, RetryCount: 1}, clock.WallClock, "windows")

		res, err := r.Run(context.Background(), job)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Status != Advisory || res.ExitCode != 3 {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("Exit code 8 is a FailureError", func(t *testing.T) {
		fake := commandtest.NewRunner().On("robocopy", commandtest.Response{ExitCode: 8})
		r := newRunnerFor(fake, Options{Engine: Robocopy}, clock.WallClock, "windows")

		res, err := r.Run(context.Background(), job)
		failure, ok := errors.AsType[*FailureError](err)
		if !ok {
			t.Fatalf("expected *FailureError, got %v", err)
		}
		if failure.ExitCode != 8 || failure.Engine != Robocopy || res.Status != Fatal {
			t.Errorf("unexpected failure: %+v result: %+v", failure, res)
		}
		if len(fake.Calls()) != 1 {
			t.Errorf("robocopy must be invoked exactly once, got %d", len(fake.Calls()))
		}
	})

	t.Run("Missing binary is fatal", func(t *testing.T) {
		notFound := errors.New("executable file not found")
		fake := commandtest.NewRunner().On("robocopy", commandtest.Response{ExitCode: -1, Err: notFound})
		r := newRunnerFor(fake, Options{Engine: Robocopy}, clock.WallClock, "windows")

		_, err := r.Run(context.Background(), job)
		if _, ok := errors.AsType[*FailureError](err); !ok || !errors.Is(err, notFound) {
			t.Fatalf("expected FailureError wrapping the start error, got %v", err)
		}
	})
}

func TestRunnerRsyncRetries(t *testing.T) {
	job := Job{Source: "/s", Destination: "/d", Mode: Incremental}

	t.Run("Retryable code then success", func(t *testing.T) {
		fake := commandtest.NewRunner().On("rsync",
			commandtest.Response{ExitCode: 23},
			commandtest.Response{ExitCode: 0},
		)
		r := newRunnerFor(fake, Options{Engine: Auto, RetryCount: 1, RetryWait: time.Millisecond}, clock.WallClock, "linux")

		res, err := r.Run(context.Background(), job)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Attempts != 2 || res.Status != Success {
			t.Errorf("expected success on the second attempt, got %+v", res)
		}
	})

	t.Run("Retries exhausted", func(t *testing.T) {
		fake := commandtest.NewRunner().On("rsync", commandtest.Response{ExitCode: 23})
		r := newRunnerFor(fake, Options{Engine: Rsync, RetryCount: 1, RetryWait: time.Millisecond}, clock.WallClock, "linux")

		res, err := r.Run(context.Background(), job)
		if _, ok := errors.AsType[*FailureError](err); !ok {
			t.Fatalf("expected *FailureError, got %v", err)
		}
		if res.Attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", res.Attempts)
		}
	})

	t.Run("Non retryable code fails immediately", func(t *testing.T) {
		fake := commandtest.NewRunner().On("rsync", commandtest.Response{ExitCode: 11})
		r := newRunnerFor(fake, Options{Engine: Rsync, RetryCount: 3, RetryWait: time.Millisecond}, clock.WallClock, "linux")

		res, err := r.Run(context.Background(), job)
		if err == nil {
			t.Fatal("expected an error")
		}
		if res.Attempts != 1 {
			t.Errorf("expected a single attempt, got %d", res.Attempts)
		}
	})

	t.Run("Vanished files are advisory", func(t *testing.T) {
		fake := commandtest.NewRunner().On("rsync", commandtest.Response{ExitCode: 24})
		r := newRunnerFor(fake, Options{Engine: Rsync}, clock.WallClock, "linux")

		res, err := r.Run(context.Background(), job)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Status != Advisory {
			t.Errorf("expected advisory, got %s", res.Status)
		}
	})
}
