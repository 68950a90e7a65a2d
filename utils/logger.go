/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the logrus logger type used across the module.
type Logger = logrus.Logger

// PathFormat selects how a caller path is rendered in log lines.
type PathFormat int

const (
	PathFormatTruncatedRelative PathFormat = iota
	PathFormatFilenameOnly
)

var (
	defaultConsoleLevel = logrus.InfoLevel
	loggerRegistryMu    sync.RWMutex
	loggerRegistry      = map[string]*logrus.Logger{}
)

// ParseLogLevel maps a level name onto a logrus level, defaulting to info.
func ParseLogLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// RegisterLogger records a named logger so its level can be changed later.
func RegisterLogger(name string, l *logrus.Logger) {
	loggerRegistryMu.Lock()
	defer loggerRegistryMu.Unlock()
	loggerRegistry[name] = l
}

// SetLoggerLevel changes the level of one registered logger. It reports
// whether the name was known.
func SetLoggerLevel(name string, lvlStr string) bool {
	lvl := ParseLogLevel(lvlStr)
	loggerRegistryMu.RLock()
	lg, ok := loggerRegistry[name]
	loggerRegistryMu.RUnlock()
	if !ok {
		return false
	}
	lg.SetLevel(lvl)
	return true
}

// SetAllLoggersLevel changes the level of every registered logger.
func SetAllLoggersLevel(lvl logrus.Level) {
	loggerRegistryMu.RLock()
	for _, lg := range loggerRegistry {
		lg.SetLevel(lvl)
	}
	loggerRegistryMu.RUnlock()
	logrus.SetLevel(lvl)
	defaultConsoleLevel = lvl
}

// ConfigureLogLevel parses a level name and applies it everywhere.
func ConfigureLogLevel(levelStr string) {
	SetAllLoggersLevel(ParseLogLevel(levelStr))
}

type consoleWriterHook struct {
	formatter logrus.Formatter
}

func (h *consoleWriterHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *consoleWriterHook) Fire(e *logrus.Entry) error {
	if e.Level > defaultConsoleLevel {
		return nil
	}
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}

// NewLogger builds a named console logger with the colored line format and
// registers it for level control. Output goes through the console hook, so
// the logger's own writer stays discarded.
func NewLogger(name string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(defaultConsoleLevel)
	l.SetReportCaller(true)
	l.SetFormatter(&Log4jColorFormatter{
		LoggerName:      name,
		TimestampFormat: "2006-01-02 15:04:05.000",
		PathFmt:         PathFormatTruncatedRelative,
		ColorCaller:     true,
		NameWidth:       10,
		CallerWidth:     25,
	})
	l.AddHook(&consoleWriterHook{formatter: l.Formatter})
	RegisterLogger(name, l)
	return l
}

// Log4jColorFormatter renders log4j-style lines: timestamp, padded colored
// level, pid, thread marker, cyan logger name, compacted caller, message.
type Log4jColorFormatter struct {
	LoggerName      string
	TimestampFormat string
	PathFmt         PathFormat
	ColorCaller     bool
	NameWidth       int
	CallerWidth     int
}

func (f *Log4jColorFormatter) tsFormat() string {
	if f.TimestampFormat != "" {
		return f.TimestampFormat
	}
	return "2006-01-02 15:04:05.000"
}

func (f *Log4jColorFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	ts := time.Now().Format(f.tsFormat())
	lvlPad := padLeft(strings.ToUpper(entry.Level.String()), 7)
	coloredLvl := colorLevel(lvlPad, entry.Level)
	pid := colorMagenta(fmt.Sprintf("%-6d", os.Getpid()))
	thread := colorMagenta("[main]")
	namePad := padLeft(limitRunes(f.LoggerName, f.NameWidth), f.NameWidth)
	cyanName := colorCyan(namePad)

	callerInfo := ""
	if entry.Caller != nil {
		var fileLine string
		switch f.PathFmt {
		case PathFormatFilenameOnly:
			fileLine = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
		default:
			rel := moduleRelative(filepath.ToSlash(entry.Caller.File))
			lineStr := strconv.Itoa(entry.Caller.Line)
			if f.CallerWidth > 0 {
				rel = compactPath(rel, f.CallerWidth-len(lineStr)-1)
			}
			fileLine = rel + ":" + lineStr
		}
		if f.CallerWidth > 0 {
			fileLine = padLeftRunes(fileLine, f.CallerWidth)
		}
		if f.ColorCaller {
			callerInfo = colorFaint(" " + fileLine)
		} else {
			callerInfo = " " + fileLine
		}
	}

	line := fmt.Sprintf("%s %s %s - %s %s%s %s %s\n",
		ts, coloredLvl, pid, thread, cyanName, callerInfo, colorFaint(":"), entry.Message)
	return []byte(line), nil
}

const (
	ansiReset   = "\x1b[0m"
	ansiFaint   = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiYellow  = "\x1b[33m"
	ansiGreen   = "\x1b[32m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func colorWrap(s, code string) string { return code + s + ansiReset }

func colorMagenta(s string) string { return colorWrap(s, ansiMagenta) }

func colorCyan(s string) string { return colorWrap(s, ansiCyan) }

func colorFaint(s string) string { return colorWrap(s, ansiFaint) }

func colorLevel(s string, level logrus.Level) string {
	switch level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorWrap(s, ansiRed)
	case logrus.WarnLevel:
		return colorWrap(s, ansiYellow)
	case logrus.InfoLevel:
		return colorWrap(s, ansiGreen)
	case logrus.DebugLevel:
		return colorWrap(s, ansiBlue)
	default:
		return colorWrap(s, ansiMagenta)
	}
}

var (
	moduleRootOnce sync.Once
	moduleRoot     string
)

// moduleRelative strips the module root from an absolute caller path.
func moduleRelative(p string) string {
	moduleRootOnce.Do(func() {
		dir := filepath.Dir(p)
		for {
			if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
				moduleRoot = filepath.ToSlash(dir)
				return
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				return
			}
			dir = parent
		}
	})
	if moduleRoot != "" && strings.HasPrefix(p, moduleRoot) {
		return strings.TrimPrefix(strings.TrimPrefix(p, moduleRoot), "/")
	}
	return p
}

// compactPath shortens a slash path to max characters by reducing directory
// names to their first letter, java-style: database/handle.go -> d.handle.go.
func compactPath(p string, max int) string {
	if max <= 0 {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(p), "/")
	filename := parts[len(parts)-1]
	dirs := parts[:len(parts)-1]
	out := strings.Join(append(dirs, filename), ".")
	if len(out) <= max {
		return out
	}
	for i := range dirs {
		r := []rune(dirs[i])
		if len(r) > 1 {
			dirs[i] = string(r[0])
		}
		out = strings.Join(append(dirs, filename), ".")
		if len(out) <= max {
			return out
		}
	}
	if len(out) > max {
		r := []rune(out)
		out = string(r[len(r)-max:])
	}
	return out
}

func padLeft(s string, width int) string { return fmt.Sprintf("%"+strconv.Itoa(width)+"s", s) }

func padLeftRunes(s string, width int) string {
	r := []rune(s)
	if len(r) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(r)) + s
}

func limitRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// EnvDefaultString returns the environment value for key, or def when unset.
func EnvDefaultString(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvDefaultBool returns the boolean environment value for key, or def when
// unset. Unparseable values count as false.
func EnvDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}

// EnvDefaultInt returns the integer environment value for key, or def when
// unset or unparseable.
func EnvDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
