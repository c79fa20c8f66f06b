// Package rlog is a thin wrapper around charmbracelet/log: one small
// helper, used pervasively, that every subsystem reaches for instead
// of fmt.Printf or the root logger directly.
package rlog

import (
	"os"

	"github.com/charmbracelet/log"
)

var root = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

// SetLevel adjusts the root logger's threshold. Called once at startup
// from the parsed configuration (log_level).
func SetLevel(level string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		root.Warnf("unrecognized log level %q, leaving at %s", level, root.GetLevel())
		return
	}
	root.SetLevel(parsed)
}

// For returns a logger scoped to a component, e.g. rlog.For("rtsp.router").
// Every package-level subsystem (router, racked, render, clockbridge, ...)
// holds one of these instead of calling the root logger directly.
func For(component string) *log.Logger {
	return root.With("component", component)
}

// Package-scope convenience wrappers for call sites that don't hold a
// per-component logger (startup/composition-root code).
func Info(msg string, kv ...any)  { root.Info(msg, kv...) }
func Error(msg string, kv ...any) { root.Error(msg, kv...) }
func Warn(msg string, kv ...any)  { root.Warn(msg, kv...) }
func Debug(msg string, kv ...any) { root.Debug(msg, kv...) }
