package session

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/teranos/recwake/pulse/capture"
)

const outputStampLayout = "20060102_150405"

// OutputName is the file name for a recording that started at t.
func OutputName(t time.Time) string {
	return "recording_" + t.Format(outputStampLayout) + ".wav"
}

// OutputPath picks a free path in dir for a recording started at t,
// suffixing _2, _3 ... when a file (or its spool) already exists.
func OutputPath(dir string, t time.Time) string {
	base := "recording_" + t.Format(outputStampLayout)
	path := filepath.Join(dir, base+".wav")
	for n := 2; taken(path); n++ {
		path = filepath.Join(dir, base+"_"+strconv.Itoa(n)+".wav")
	}
	return path
}

func taken(path string) bool {
	for _, p := range []string{path, capture.SpoolPath(path)} {
		if _, err := os.Lstat(p); err == nil {
			return true
		}
	}
	return false
}
