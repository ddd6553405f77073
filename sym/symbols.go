// Package sym defines the glyphs recwake uses to mark log lines and CLI
// output. Each glyph names one subsystem so a mixed log stream stays
// scannable at a glance.
package sym

// Subsystem glyphs.
const (
	Pulse      = "꩜" // wake scheduler and session event loop
	PulseOpen  = "✿" // startup and reconciliation
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // job store and recordings index
	AM         = "≡" // configuration
	Rec        = "●" // capture device and active recording
	Wake       = "⏰" // wake adapter arm/cancel/fire
	API        = "⇄" // HTTP API and websocket clients
)

// entry binds a glyph to the subsystem it marks.
type entry struct {
	glyph       string
	name        string
	description string
}

var registry = []entry{
	{Pulse, "pulse", "Session event loop"},
	{PulseOpen, "pulse-open", "Startup with interrupted session recovery"},
	{PulseClose, "pulse-close", "Graceful shutdown"},
	{DB, "db", "Job store and recordings index"},
	{AM, "am", "Configuration"},
	{Rec, "rec", "Capture device and active recording"},
	{Wake, "wake", "Wake adapter"},
	{API, "api", "HTTP API"},
}

var (
	glyphToName map[string]string
	nameToGlyph map[string]string
)

func init() {
	glyphToName = make(map[string]string, len(registry))
	nameToGlyph = make(map[string]string, len(registry))
	for _, e := range registry {
		glyphToName[e.glyph] = e.name
		nameToGlyph[e.name] = e.glyph
	}
}

// Name returns the subsystem name for a glyph, or "" if unknown.
func Name(glyph string) string {
	return glyphToName[glyph]
}

// Glyph returns the glyph for a subsystem name, or "" if unknown.
func Glyph(name string) string {
	return nameToGlyph[name]
}

// Describe returns the human-readable description for a glyph.
func Describe(glyph string) string {
	for _, e := range registry {
		if e.glyph == glyph {
			return e.description
		}
	}
	return ""
}

// All returns every glyph in registry order.
func All() []string {
	out := make([]string, 0, len(registry))
	for _, e := range registry {
		out = append(out, e.glyph)
	}
	return out
}
