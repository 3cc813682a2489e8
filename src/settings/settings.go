// Package settings holds the process-wide configuration for Keyper's
// demo binary: a flag-backed Arguments struct with a lazily
// initialized singleton accessor.
package settings

import "sync"

// Arguments is the demo binary's configuration. Keyper itself (the
// collection/keyperdb/view packages) takes no global configuration —
// every Collection and DB is constructed explicitly — so Arguments only
// covers the demo process's own concerns: logging and what sample data
// to seed.
type Arguments struct {
	// LogDir names a directory for log files. The demo binary does not
	// read it; its logger writes only where newLogger's zap config sends
	// output.
	LogDir string

	// PrintToScreen is a screen-output toggle. The demo binary does not
	// read it.
	PrintToScreen bool

	// Verbose enables info-level narration of demo steps.
	Verbose bool

	// Debug selects zap's development logger config (console encoding,
	// caller/stack traces) over its production one.
	Debug bool

	// Seed names the canned dataset, settable with -seed. The demo has a
	// single hard-coded dataset and does not read this field.
	Seed string

	// Version is the demo's version string. No flag prints it and the
	// logger does not include it.
	Version string
}

var (
	once     sync.Once
	instance *Arguments
)

// GetSettings returns the process-wide Arguments instance, creating it
// with its defaults on first call.
func GetSettings() *Arguments {
	once.Do(func() {
		instance = &Arguments{
			PrintToScreen: true,
			Verbose:       true,
			Debug:         true,
			Seed:          "basic",
			Version:       "0.1.0",
		}
	})
	return instance
}
