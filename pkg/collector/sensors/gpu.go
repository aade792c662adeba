package sensors

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/srodi/waitlens/pkg/types"
)

// drmRoot is overridden in tests.
var drmRoot = "/sys/class/drm"

var cardName = regexp.MustCompile(`^card(\d+)$`)

// GPUBusy samples amdgpu-style gpu_busy_percent per DRM card.
type GPUBusy struct{}

func (GPUBusy) Name() string { return "gpu_busy" }

// Sample reads every card that exposes gpu_busy_percent.
func (GPUBusy) Sample(ctx context.Context) (Batch, error) {
	entries, err := os.ReadDir(drmRoot)
	if err != nil {
		return Batch{}, err
	}
	var b Batch
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return b, err
		}
		m := cardName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		value, err := readBusyPercent(e.Name())
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// not every driver exposes busy percent
		case err != nil:
			b.Failed = append(b.Failed, uint32(idx))
		default:
			b.Samples = append(b.Samples, types.UnitSample{UnitID: uint32(idx), Value: value})
		}
	}
	sort.Slice(b.Samples, func(i, j int) bool { return b.Samples[i].UnitID < b.Samples[j].UnitID })
	return b, nil
}

func readBusyPercent(card string) (uint64, error) {
	raw, err := os.ReadFile(filepath.Join(drmRoot, card, "device", "gpu_busy_percent"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
}
