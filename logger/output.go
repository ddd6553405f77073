package logger

// OutputCategory is a class of CLI output that is enabled at some
// verbosity, independent of log severity.
type OutputCategory int

const (
	// Level 0
	OutputResults OutputCategory = iota // command output
	OutputErrors                        // errors with hints

	// Level 1 (-v)
	OutputProgress // recording progress
	OutputStartup  // daemon banner, reconciliation summary

	// Level 2 (-vv)
	OutputConfig   // config values loaded
	OutputWakeTick // scheduler polling

	// Level 3 (-vvv)
	OutputSQLQueries // store statements
	OutputCapture    // per-chunk accounting
)

var categoryLevels = map[OutputCategory]int{
	OutputResults:    VerbosityUser,
	OutputErrors:     VerbosityUser,
	OutputProgress:   VerbosityInfo,
	OutputStartup:    VerbosityInfo,
	OutputConfig:     VerbosityDebug,
	OutputWakeTick:   VerbosityDebug,
	OutputSQLQueries: VerbosityTrace,
	OutputCapture:    VerbosityTrace,
}

// ShouldOutput reports whether category is shown at verbosity.
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		return verbosity >= VerbosityTrace
	}
	return verbosity >= minLevel
}
