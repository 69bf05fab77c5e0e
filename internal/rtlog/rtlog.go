// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Package rtlog is the runtime's internal leveled logger. The command-line
// driver logs through it; the GC, the JIT and the scheduler do not log.
package rtlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level orders log severity, most to least verbose matching their
// integer value ascending.
type Level int

const (
	LvlDebug Level = iota
	LvlInfo
	LvlWarn
	LvlError
)

func (l Level) String() string {
	switch l {
	case LvlDebug:
		return "DEBUG"
	case LvlInfo:
		return "INFO"
	case LvlWarn:
		return "WARN"
	case LvlError:
		return "ERROR"
	}
	return "?????"
}

var levelColor = map[Level]int{
	LvlDebug: 37, // white
	LvlInfo:  36, // cyan
	LvlWarn:  33, // yellow
	LvlError: 31, // red
}

// Logger writes leveled, optionally colorized lines with a captured call
// site, to a single writer guarded by a mutex.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel Level
	color    bool
}

// New wraps w (typically os.Stderr) as a Logger. Color is auto-detected
// from whether w is a terminal, using the same colorable/isatty pairing
// the wider Go ecosystem's leveled loggers use on Windows and Unix alike.
func New(w io.Writer, minLevel Level) *Logger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		if color {
			w = colorable.NewColorable(f)
		}
	}
	return &Logger{out: w, minLevel: minLevel, color: color}
}

// Default builds the package-level logger most callers want: info level
// and above, to stderr, colorized when stderr is a terminal.
func Default() *Logger {
	return New(os.Stderr, LvlInfo)
}

func (l *Logger) log(level Level, msg string, kv ...interface{}) {
	if level < l.minLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	call := stack.Caller(2)
	ts := time.Now().Format("15:04:05.000")

	var line string
	if l.color {
		line = fmt.Sprintf("\x1b[%dm%-5s\x1b[0m[%s] %s %s %s", levelColor[level], level, ts, msg, formatKV(kv), fmt.Sprintf("%n:%d", call, call))
	} else {
		line = fmt.Sprintf("%-5s[%s] %s %s %s:%d", level, ts, msg, formatKV(kv), call, call)
	}
	fmt.Fprintln(l.out, line)
}

func formatKV(kv []interface{}) string {
	if len(kv) == 0 {
		return ""
	}
	out := ""
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%v=%v", kv[i], kv[i+1])
	}
	return out
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(LvlDebug, msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(LvlInfo, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(LvlWarn, msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(LvlError, msg, kv...) }
