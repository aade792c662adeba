package sensors

import (
	"context"
	"math"
	"regexp"
	"strconv"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"

	"github.com/srodi/waitlens/pkg/types"
)

// Seams for tests.
var (
	cpuPercent          = cpu.PercentWithContext
	sensorsTemperatures = host.SensorsTemperatures
)

// CPUUtil samples per-core utilisation in hundredths of a percent.
type CPUUtil struct{}

func (CPUUtil) Name() string { return "cpu_util" }

// Sample reports utilisation since the previous call.
func (CPUUtil) Sample(ctx context.Context) (Batch, error) {
	percents, err := cpuPercent(ctx, 0, true)
	if err != nil {
		return Batch{}, err
	}
	var b Batch
	for i, p := range percents {
		if math.IsNaN(p) || p < 0 {
			b.Failed = append(b.Failed, uint32(i))
			continue
		}
		b.Samples = append(b.Samples, types.UnitSample{UnitID: uint32(i), Value: uint64(math.Round(p * 100))})
	}
	return b, nil
}

var (
	coreKey    = regexp.MustCompile(`(?i)core_?(\d+)`)
	packageKey = regexp.MustCompile(`(?i)(package_id_0|tctl|tdie)`)
)

// CPUTemp samples per-core temperatures in millidegrees Celsius. Machines that
// only expose a package sensor report it as core 0.
type CPUTemp struct{}

func (CPUTemp) Name() string { return "cpu_temp" }

// Sample reads the hwmon sensors once.
func (CPUTemp) Sample(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	temps, err := sensorsTemperatures()
	// partial readings come back together with a warnings error
	if err != nil && len(temps) == 0 {
		return Batch{}, err
	}

	var (
		b       Batch
		pkg     *types.UnitSample
		perCore = make(map[uint32]bool)
	)
	for _, t := range temps {
		value := milliCelsius(t.Temperature)
		if m := coreKey.FindStringSubmatch(t.SensorKey); m != nil {
			idx, err := strconv.ParseUint(m[1], 10, 32)
			if err != nil || perCore[uint32(idx)] {
				continue
			}
			perCore[uint32(idx)] = true
			b.Samples = append(b.Samples, types.UnitSample{UnitID: uint32(idx), Value: value})
			continue
		}
		if pkg == nil && packageKey.MatchString(t.SensorKey) {
			pkg = &types.UnitSample{UnitID: 0, Value: value}
		}
	}
	if len(b.Samples) == 0 && pkg != nil {
		b.Samples = append(b.Samples, *pkg)
	}
	return b, nil
}

// milliCelsius maps negative or NaN readings to 0 so the table rejects them.
func milliCelsius(c float64) uint64 {
	if math.IsNaN(c) || c <= 0 {
		return 0
	}
	return uint64(math.Round(c * 1000))
}
