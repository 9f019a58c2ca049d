// Package config reads the key-value configuration file once per run and
// resolves it into an immutable RunConfig that is handed to every component.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paulschiretz/pgl-snapshot/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapshot/pkg/mirror"
	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
	"github.com/paulschiretz/pgl-snapshot/pkg/runlog"
	"github.com/paulschiretz/pgl-snapshot/pkg/util"
)

// FileName is the name of the configuration file next to the executable.
const FileName = buildinfo.BinaryName + ".yaml"

const (
	// DefaultRetentionCount is effectively unbounded. It applies when the
	// retention count is missing, unparsable or below one.
	DefaultRetentionCount = 10000
	DefaultSource         = "~/Desktop"
	DefaultRetryCount     = 1
	DefaultRetryWait      = 1
	DefaultDeleteWorkers  = 1
	// ShutdownGracePeriod is the fixed wait before a requested shutdown.
	ShutdownGracePeriod = 10 * time.Second
)

// ConfigurationError reports a missing or invalid setting.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %s", e.Key, e.Reason)
}

// Lenient holds a scalar exactly as written. Numeric settings that must fall
// back instead of failing are parsed from it after loading.
type Lenient string

// UnmarshalYAML accepts any scalar.
func (l *Lenient) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", value.Line)
	}
	*l = Lenient(value.Value)
	return nil
}

// MarshalYAML writes numbers unquoted.
func (l Lenient) MarshalYAML() (any, error) {
	if n, err := strconv.Atoi(string(l)); err == nil {
		return n, nil
	}
	return string(l), nil
}

// Int parses the value.
func (l Lenient) Int() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(l)))
	return n, err == nil
}

// File mirrors the configuration file.
type File struct {
	Volume               string   `yaml:"volume"`
	BackupFolder         string   `yaml:"backupFolder"`
	LogDir               string   `yaml:"logDir"`
	Source               string   `yaml:"source"`
	RetentionCount       Lenient  `yaml:"retentionCount"`
	ShutdownOnCompletion Lenient  `yaml:"shutdownOnCompletion"`
	MirrorEngine         string   `yaml:"mirrorEngine"`
	RetryCount           int      `yaml:"retryCount"`
	RetryWaitSeconds     int      `yaml:"retryWaitSeconds"`
	RequireMountedVolume bool     `yaml:"requireMountedVolume"`
	RunLock              bool     `yaml:"runLock"`
	DeleteWorkers        int      `yaml:"deleteWorkers"`
	Metrics              bool     `yaml:"metrics"`
	LogLevel             string   `yaml:"logLevel"`
	LogArchiveAfterDays  int      `yaml:"logArchiveAfterDays"`
	LogArchiveFormat     string   `yaml:"logArchiveFormat"`
	PreBackupHooks       []string `yaml:"preBackupHooks"`
	PostBackupHooks      []string `yaml:"postBackupHooks"`
	Schedule             string   `yaml:"schedule"`
}

// NewDefault returns a File with every optional key at its default.
func NewDefault() File {
	return File{
		Source:               DefaultSource,
		RetentionCount:       Lenient(strconv.Itoa(DefaultRetentionCount)),
		ShutdownOnCompletion: "0",
		MirrorEngine:         string(mirror.Auto),
		RetryCount:           DefaultRetryCount,
		RetryWaitSeconds:     DefaultRetryWait,
		DeleteWorkers:        DefaultDeleteWorkers,
		LogLevel:             "info",
		LogArchiveFormat:     string(runlog.Zstd),
		PreBackupHooks:       []string{},
		PostBackupHooks:      []string{},
	}
}

// RunConfig is the resolved configuration of one run. It is never modified
// after Resolve returns.
type RunConfig struct {
	ConfigPath string

	Volume          string
	DestinationRoot string
	LogDir          string
	Source          string

	RetentionCount       int
	ShutdownOnCompletion bool

	MirrorEngine mirror.Engine
	RetryCount   int
	RetryWait    time.Duration

	RequireMountedVolume bool
	RunLock              bool
	DeleteWorkers        int
	Metrics              bool

	LogLevel            string
	LogArchiveAfterDays int
	LogArchiveFormat    runlog.ArchiveFormat

	PreBackupHooks  []string
	PostBackupHooks []string
	Schedule        string

	DryRun bool
}

// matches $(VAR_NAME)
var envPattern = regexp.MustCompile(`\$\(([A-Za-z0-9_]+)\)`)

// expandEnvVars replaces $(VAR) with os.Getenv(VAR).
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envPattern.FindStringSubmatch(m)[1])
	})
}

// getExecutableDir is swapped in tests.
var getExecutableDir = util.ExecutableDir

// DefaultPath returns the configuration file next to the executable.
func DefaultPath() (string, error) {
	dir, err := getExecutableDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the file at path on top of the defaults. Unknown keys are
// rejected so a typo does not silently fall back to a default.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return File{}, fmt.Errorf("config file %s not found, run '%s init' to create one: %w", path, buildinfo.BinaryName, err)
		}
		return File{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	plog.Info("Loading configuration", "path", path)

	f := NewDefault()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expandEnvVars(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return f, nil
		}
		return File{}, fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return f, nil
}

// Resolve validates f and turns it into a RunConfig. Missing required keys
// and invalid values are reported as *ConfigurationError. The retention
// count never fails: it falls back to DefaultRetentionCount.
func (f File) Resolve(configPath string, dryRun bool) (RunConfig, error) {
	c := RunConfig{
		ConfigPath:           configPath,
		RequireMountedVolume: f.RequireMountedVolume,
		RunLock:              f.RunLock,
		Metrics:              f.Metrics,
		LogLevel:             f.LogLevel,
		LogArchiveAfterDays:  f.LogArchiveAfterDays,
		PreBackupHooks:       util.MergeAndDeduplicate(f.PreBackupHooks),
		PostBackupHooks:      util.MergeAndDeduplicate(f.PostBackupHooks),
		Schedule:             strings.TrimSpace(f.Schedule),
		DryRun:               dryRun,
	}

	if strings.TrimSpace(f.Volume) == "" {
		return RunConfig{}, &ConfigurationError{Key: "volume", Reason: "is required"}
	}
	if strings.TrimSpace(f.BackupFolder) == "" {
		return RunConfig{}, &ConfigurationError{Key: "backupFolder", Reason: "is required"}
	}
	if strings.TrimSpace(f.LogDir) == "" {
		return RunConfig{}, &ConfigurationError{Key: "logDir", Reason: "is required"}
	}

	c.Volume = util.VolumeRoot(f.Volume)
	c.DestinationRoot = filepath.Join(c.Volume, f.BackupFolder)
	c.LogDir = filepath.Join(c.Volume, f.LogDir)

	source := f.Source
	if strings.TrimSpace(source) == "" {
		source = DefaultSource
	}
	abs, err := util.ExpandedAbsPath(source)
	if err != nil {
		return RunConfig{}, &ConfigurationError{Key: "source", Reason: err.Error()}
	}
	c.Source = abs

	c.RetentionCount = resolveRetentionCount(f.RetentionCount)
	c.ShutdownOnCompletion = resolveFlag(f.ShutdownOnCompletion)

	engine, err := mirror.ParseEngine(f.MirrorEngine)
	if err != nil {
		return RunConfig{}, &ConfigurationError{Key: "mirrorEngine", Reason: err.Error()}
	}
	c.MirrorEngine = engine

	if f.RetryCount < 0 {
		return RunConfig{}, &ConfigurationError{Key: "retryCount", Reason: "cannot be negative"}
	}
	c.RetryCount = f.RetryCount
	if f.RetryWaitSeconds < 0 {
		return RunConfig{}, &ConfigurationError{Key: "retryWaitSeconds", Reason: "cannot be negative"}
	}
	c.RetryWait = time.Duration(f.RetryWaitSeconds) * time.Second

	if f.DeleteWorkers < 1 {
		return RunConfig{}, &ConfigurationError{Key: "deleteWorkers", Reason: "must be at least 1"}
	}
	c.DeleteWorkers = f.DeleteWorkers

	if f.LogArchiveAfterDays < 0 {
		return RunConfig{}, &ConfigurationError{Key: "logArchiveAfterDays", Reason: "cannot be negative"}
	}
	format, err := runlog.ParseArchiveFormat(f.LogArchiveFormat)
	if err != nil {
		return RunConfig{}, &ConfigurationError{Key: "logArchiveFormat", Reason: err.Error()}
	}
	c.LogArchiveFormat = format

	if err := c.Validate(); err != nil {
		return RunConfig{}, err
	}
	return c, nil
}

func resolveRetentionCount(raw Lenient) int {
	if strings.TrimSpace(string(raw)) == "" {
		return DefaultRetentionCount
	}
	n, ok := raw.Int()
	if !ok || n < 1 {
		plog.Warn("Invalid retention count, keeping all snapshots", "value", string(raw), "fallback", DefaultRetentionCount)
		return DefaultRetentionCount
	}
	return n
}

func resolveFlag(raw Lenient) bool {
	if n, ok := raw.Int(); ok {
		return n == 1
	}
	b, err := strconv.ParseBool(strings.TrimSpace(string(raw)))
	return err == nil && b
}

// Validate checks cross-field consistency of a resolved configuration.
func (c RunConfig) Validate() error {
	if c.RetentionCount < 1 {
		return &ConfigurationError{Key: "retentionCount", Reason: "must be at least 1"}
	}
	if c.DeleteWorkers < 1 {
		return &ConfigurationError{Key: "deleteWorkers", Reason: "must be at least 1"}
	}
	if filepath.Clean(c.DestinationRoot) == filepath.Clean(c.Volume) {
		return &ConfigurationError{Key: "backupFolder", Reason: "must name a folder below the volume root"}
	}
	if rel, err := filepath.Rel(c.Source, c.DestinationRoot); err == nil && !strings.HasPrefix(rel, "..") {
		return &ConfigurationError{Key: "backupFolder", Reason: fmt.Sprintf("destination %s lies inside the source %s", c.DestinationRoot, c.Source)}
	}
	return nil
}

// LogSummary prints the effective configuration.
func (c RunConfig) LogSummary() {
	plog.Info("Configuration loaded",
		"source", c.Source,
		"destination", c.DestinationRoot,
		"logDir", c.LogDir,
		"retentionCount", c.RetentionCount,
		"shutdownOnCompletion", c.ShutdownOnCompletion,
		"engine", c.MirrorEngine,
	)
	plog.Debug("Configuration details",
		"retryCount", c.RetryCount,
		"retryWait", c.RetryWait,
		"requireMountedVolume", c.RequireMountedVolume,
		"runLock", c.RunLock,
		"deleteWorkers", c.DeleteWorkers,
		"metrics", c.Metrics,
		"logArchiveAfterDays", c.LogArchiveAfterDays,
		"logArchiveFormat", c.LogArchiveFormat,
		"preBackupHooks", len(c.PreBackupHooks),
		"postBackupHooks", len(c.PostBackupHooks),
		"schedule", c.Schedule,
		"dryRun", c.DryRun,
	)
}

var keyComments = map[string]string{
	"volume":               "Root of the external backup volume, e.g. E: on Windows or /media/usb.",
	"backupFolder":         "Folder on the volume that holds the Backup_<date> snapshots.",
	"logDir":               "Log folder on the volume. One log_<date>.txt per day.",
	"source":               "Directory to back up.",
	"retentionCount":       "Number of snapshots to keep. Invalid values keep everything (10000).",
	"shutdownOnCompletion": "1 powers the host off 10 seconds after the run.",
	"mirrorEngine":         "auto, robocopy or rsync.",
	"retryCount":           "Retries for files that fail to copy.",
	"retryWaitSeconds":     "Wait between retries.",
	"requireMountedVolume": "Refuse a volume path that is a plain directory on the system disk.",
	"runLock":              "Refuse to start while another run holds the lock in the destination.",
	"deleteWorkers":        "Snapshots deleted in parallel while pruning.",
	"metrics":              "Log deletion counters while pruning.",
	"logLevel":             "debug, notice, info, warn or error.",
	"logArchiveAfterDays":  "Compress daily logs older than this many days. 0 disables.",
	"logArchiveFormat":     "zstd or gzip.",
	"preBackupHooks":       "Shell commands run before the copy.",
	"postBackupHooks":      "Shell commands run after the run, also after a failure.",
	"schedule":             "Cron expression used by the schedule command, e.g. \"0 2 * * *\".",
}

// Marshal renders f as a commented YAML document.
func Marshal(f File) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(f); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	doc.HeadComment = fmt.Sprintf("%s configuration. $(VAR) is replaced with the environment variable VAR.", buildinfo.Name)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := keyComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.Bytes(), nil
}

// Generate writes f to path. An existing file is only replaced if overwrite
// is set.
func Generate(path string, f File, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("config file %s already exists, use --force to overwrite", path)
	}
	data, err := Marshal(f)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	plog.Info("Successfully saved config file", "path", path)
	return nil
}
