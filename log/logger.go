// Copyright 2021 hardcore-os Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License")
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type LoggerType uint8

const (
	ConsoleLogger LoggerType = iota
	JSONLogger
)

// Component loggers. They discard everything until Init is called.
var (
	Root   = zerolog.Nop()
	DB     = zerolog.Nop()
	Engine = zerolog.Nop()
)

// Options for Logger
type Options struct {
	// LogLevel defaults to info when left at the zero value of a parsed level.
	LogLevel zerolog.Level
	Type     LoggerType
	// Out defaults to os.Stderr.
	Out io.Writer
}

func ParseLogLevel(loglevel string) (zerolog.Level, error) {
	return zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(loglevel)))
}

// ParseLoggerType maps "json" to JSONLogger and anything else to ConsoleLogger.
func ParseLoggerType(s string) LoggerType {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return JSONLogger
	}
	return ConsoleLogger
}

func Init(opts Options) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Type == ConsoleLogger {
		out = newConsoleWriter(out)
	}
	Root = zerolog.New(out).Level(opts.LogLevel).With().Timestamp().Logger()
	DB = Root.With().Str("component", "db").Logger()
	Engine = Root.With().Str("component", "engine").Logger()
}

func newConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	cw := zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: time.RFC3339}

	cw.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	cw.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("message: %q |", i)
	}
	cw.FormatFieldName = func(i interface{}) string {
		return fmt.Sprintf("%q: ", i)
	}
	cw.FormatFieldValue = func(i interface{}) string {
		return fmt.Sprintf("%q |", fmt.Sprint(i))
	}
	cw.FormatErrFieldValue = func(i interface{}) string {
		return fmt.Sprintf(" %s |", i)
	}
	return cw
}
