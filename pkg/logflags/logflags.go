// Package logflags configures which layers of the intrinsics engine
// produce log output and where that output goes.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var thunk = false
var registry = false
var cpuid = false
var tsc = false
var rng = false
var terminal = false

var logOut io.WriteCloser

var textFormatterInstance = &textFormatter{}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Thunk returns true if executable memory operations should be logged.
func Thunk() bool {
	return thunk
}

// ThunkLogger returns a logger for the thunk package.
func ThunkLogger() Logger {
	return makeFlaggableLogger(thunk, Fields{"layer": "thunk"})
}

// Registry returns true if intrinsic state transitions should be logged.
func Registry() bool {
	return registry
}

// RegistryLogger returns a logger for the intrinsic registry.
func RegistryLogger() Logger {
	return makeFlaggableLogger(registry, Fields{"layer": "registry"})
}

// CPUID returns true if CPUID invocations should be logged.
func CPUID() bool {
	return cpuid
}

// CPUIDLogger returns a logger for the CPUID intrinsic.
func CPUIDLogger() Logger {
	return makeFlaggableLogger(cpuid, Fields{"layer": "intrinsic", "kind": "cpuid"})
}

// TSC returns true if the timestamp counter intrinsics should be logged.
func TSC() bool {
	return tsc
}

// TSCLogger returns a logger for the timestamp counter intrinsics.
func TSCLogger() Logger {
	return makeFlaggableLogger(tsc, Fields{"layer": "intrinsic", "kind": "tsc"})
}

// RNG returns true if the hardware random number intrinsics should be
// logged.
func RNG() bool {
	return rng
}

// RNGLogger returns a logger for RDRAND and RDSEED.
func RNGLogger() Logger {
	return makeFlaggableLogger(rng, Fields{"layer": "intrinsic", "kind": "rng"})
}

// Terminal returns true if the interactive terminal should log.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the terminal.
func TerminalLogger() Logger {
	return makeFlaggableLogger(terminal, Fields{"layer": "terminal"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the log flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "intrin-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "registry"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "thunk":
			thunk = true
		case "registry":
			registry = true
		case "cpuid":
			cpuid = true
		case "tsc":
			tsc = true
		case "rng":
			rng = true
		case "terminal":
			terminal = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'intrin help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s ", entry.Time.Format("2006-01-02T15:04:05Z07:00"), strings.ToLower(entry.Level.String()))

	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(&b, "%v", layer)
		if kind, ok := entry.Data["kind"]; ok {
			fmt.Fprintf(&b, "/%v", kind)
		}
		b.WriteByte(' ')
	}

	for k, v := range entry.Data {
		if k == "layer" || k == "kind" {
			continue
		}
		fmt.Fprintf(&b, "%s=%v ", k, v)
	}

	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
