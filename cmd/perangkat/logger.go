package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/perangkat/internal/app"
	"github.com/hylla/perangkat/internal/config"
	"github.com/hylla/perangkat/internal/platform"
)

const defaultDevLogDir = ".perangkat/log"

var _ app.Logger = (*runtimeLogger)(nil)

// runtimeLogger writes every event to a styled stderr sink and, in dev mode, a logfmt day file.
type runtimeLogger struct {
	console *charmLog.Logger
	muted   bool

	file    *charmLog.Logger
	fileOut *os.File
}

func newRuntimeLogger(stderr io.Writer, appName string, devMode bool, cfg config.LoggingConfig, now func() time.Time) (*runtimeLogger, error) {
	name := strings.TrimSpace(cfg.Level)
	if name == "" {
		name = "info"
	}
	level, err := charmLog.ParseLevel(name)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", cfg.Level, err)
	}
	if stderr == nil {
		stderr = io.Discard
	}
	l := &runtimeLogger{console: newSink(stderr, appName, level, charmLog.TextFormatter)}
	if !devMode || !cfg.DevFile.Enabled {
		return l, nil
	}

	if now == nil {
		now = time.Now
	}
	path, err := devLogFilePath(cfg.DevFile.Dir, appName, now().UTC())
	if err != nil {
		return nil, fmt.Errorf("resolve dev log file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dev log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dev log file: %w", err)
	}
	l.fileOut = f
	l.file = newSink(f, appName, level, charmLog.LogfmtFormatter)
	return l, nil
}

func newSink(w io.Writer, prefix string, level charmLog.Level, formatter charmLog.Formatter) *charmLog.Logger {
	return charmLog.NewWithOptions(w, charmLog.Options{
		Level:           level,
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
}

// DevLogPath is empty when no file sink is open.
func (l *runtimeLogger) DevLogPath() string {
	if l == nil || l.fileOut == nil {
		return ""
	}
	return l.fileOut.Name()
}

func (l *runtimeLogger) Close() error {
	if l == nil || l.fileOut == nil {
		return nil
	}
	return l.fileOut.Close()
}

// SetConsoleEnabled mutes or unmutes stderr. The dev file keeps receiving events.
func (l *runtimeLogger) SetConsoleEnabled(enabled bool) {
	if l != nil {
		l.muted = !enabled
	}
}

func (l *runtimeLogger) log(level charmLog.Level, msg string, keyvals []any) {
	if l == nil {
		return
	}
	if !l.muted && l.console != nil {
		l.console.Log(level, msg, keyvals...)
	}
	if l.file != nil {
		l.file.Log(level, msg, keyvals...)
	}
}

func (l *runtimeLogger) Debug(msg string, keyvals ...any) { l.log(charmLog.DebugLevel, msg, keyvals) }
func (l *runtimeLogger) Info(msg string, keyvals ...any)  { l.log(charmLog.InfoLevel, msg, keyvals) }
func (l *runtimeLogger) Warn(msg string, keyvals ...any)  { l.log(charmLog.WarnLevel, msg, keyvals) }
func (l *runtimeLogger) Error(msg string, keyvals ...any) { l.log(charmLog.ErrorLevel, msg, keyvals) }

// devLogFilePath returns <dir>/<app>-YYYYMMDD.log. Relative dirs are anchored at the workspace root.
func devLogFilePath(dir, appName string, day time.Time) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = defaultDevLogDir
	}
	if !filepath.IsAbs(dir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working dir: %w", err)
		}
		dir = filepath.Join(workspaceRootFrom(cwd), dir)
	}
	name := sanitizeLogFileStem(appName) + "-" + day.Format("20060102") + ".log"
	return filepath.Join(filepath.Clean(dir), name), nil
}

// workspaceRootFrom returns the nearest ancestor of start holding go.mod or .git, else start.
func workspaceRootFrom(start string) string {
	start = filepath.Clean(strings.TrimSpace(start))
	for dir := start; ; dir = filepath.Dir(dir) {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		if filepath.Dir(dir) == dir {
			return start
		}
	}
}

func sanitizeLogFileStem(appName string) string {
	stem := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, strings.TrimSpace(appName))
	if stem = strings.Trim(stem, "-"); stem == "" {
		return platform.DefaultAppName
	}
	return stem
}
