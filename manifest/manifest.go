// Package manifest handles allot.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "allot.toml"

// Manifest represents an allot.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Runtime Runtime `toml:"runtime"`
	Program Program `toml:"program"`
	Store   Store   `toml:"store"`

	// Dir is the directory containing the allot.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Runtime configures the VM.
type Runtime struct {
	Debug         bool   `toml:"debug"`
	DumpOutput    string `toml:"dump-output"`
	LogLevel      string `toml:"log-level"`
	FrameCapacity int    `toml:"frame-capacity"`
}

// Program names the default program file.
type Program struct {
	Entry string `toml:"entry"`
}

// Store configures the program database.
type Store struct {
	Path string `toml:"path"`
}

// Default returns the configuration used when no allot.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses an allot.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if _, err := ParseLogLevel(m.Runtime.LogLevel); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Runtime.FrameCapacity < 0 {
		return nil, fmt.Errorf("%s: frame-capacity must not be negative", path)
	}
	m.applyDefaults()

	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Runtime.LogLevel == "" {
		m.Runtime.LogLevel = "info"
	}
	if m.Store.Path == "" {
		m.Store.Path = filepath.Join(".allot", "programs.db")
	}
}

// FindAndLoad walks up from startDir to find an allot.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// StorePath returns the absolute path of the program database.
func (m *Manifest) StorePath() string {
	return m.resolve(m.Store.Path)
}

// EntryPath returns the absolute path of the default program, or "" if
// none is configured.
func (m *Manifest) EntryPath() string {
	if m.Program.Entry == "" {
		return ""
	}
	return m.resolve(m.Program.Entry)
}

// DumpPath returns the absolute path debug dumps go to, or "" for stderr.
func (m *Manifest) DumpPath() string {
	if m.Runtime.DumpOutput == "" {
		return ""
	}
	return m.resolve(m.Runtime.DumpOutput)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// Verbosity maps the configured log level onto commonlog verbosity.
func (m *Manifest) Verbosity() int {
	level, _ := ParseLogLevel(m.Runtime.LogLevel)
	return Verbosity(level)
}

var levels = map[string]commonlog.Level{
	"none":     commonlog.None,
	"critical": commonlog.Critical,
	"error":    commonlog.Error,
	"warning":  commonlog.Warning,
	"notice":   commonlog.Notice,
	"info":     commonlog.Info,
	"debug":    commonlog.Debug,
}

// ParseLogLevel converts a level name to a commonlog level. The empty
// string means info.
func ParseLogLevel(s string) (commonlog.Level, error) {
	if s == "" {
		return commonlog.Info, nil
	}
	level, ok := levels[strings.ToLower(s)]
	if !ok {
		return commonlog.None, fmt.Errorf("unknown log-level %q", s)
	}
	return level, nil
}

// Verbosity converts a level to the verbosity commonlog.Configure takes,
// where 0 is notice and each step adds or removes one level.
func Verbosity(level commonlog.Level) int {
	return int(level) - int(commonlog.Notice)
}
