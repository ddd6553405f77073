package capture

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/teranos/recwake/errors"
)

// ProbeALSACapture finds another process with an ALSA capture node open
// (/dev/snd/pcmC<card>D<dev>c). Processes we may not inspect are skipped.
func ProbeALSACapture(ctx context.Context) (int, bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to list processes")
	}
	self := int32(os.Getpid())
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		files, err := p.OpenFilesWithContext(ctx)
		if err != nil {
			continue
		}
		for _, f := range files {
			if IsCaptureNode(f.Path) {
				return int(p.Pid), true, nil
			}
		}
	}
	return 0, false, nil
}

// IsCaptureNode matches ALSA PCM capture device paths.
func IsCaptureNode(path string) bool {
	if filepath.Dir(path) != "/dev/snd" {
		return false
	}
	base := filepath.Base(path)
	return strings.HasPrefix(base, "pcmC") && strings.HasSuffix(base, "c")
}
