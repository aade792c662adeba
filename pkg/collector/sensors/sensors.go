// Package sensors samples per-unit readings (cores, GPUs) into unit tables.
package sensors

import (
	"context"
	"fmt"

	"github.com/srodi/waitlens/pkg/types"
	"github.com/srodi/waitlens/pkg/units"
)

// Batch is one sampling pass. Failed lists units whose reading could not be
// taken this pass.
type Batch struct {
	Samples []types.UnitSample
	Failed  []uint32
}

// Sampler reads every unit of one kind.
type Sampler interface {
	Name() string
	Sample(ctx context.Context) (Batch, error)
}

// New returns the sampler for a configured source. "none" yields nil: the
// table is then fed by an external producer.
func New(source string) (Sampler, error) {
	switch source {
	case "cpu_util":
		return CPUUtil{}, nil
	case "cpu_temp":
		return CPUTemp{}, nil
	case "gpu_busy":
		return GPUBusy{}, nil
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown sample source %q", source)
}

// Poller feeds one sampler into one unit table.
type Poller struct {
	sampler Sampler
	table   *units.Table
}

// NewPoller pairs s with t.
func NewPoller(s Sampler, t *units.Table) *Poller {
	return &Poller{sampler: s, table: t}
}

// Name identifies the poller to the scheduler.
func (p *Poller) Name() string { return "sample:" + p.table.Name() }

// Run takes one sample pass.
func (p *Poller) Run(ctx context.Context) error {
	batch, err := p.sampler.Sample(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", p.sampler.Name(), err)
	}
	for _, s := range batch.Samples {
		p.table.RecordSample(s.UnitID, s.Value)
	}
	for _, id := range batch.Failed {
		p.table.RecordError(id)
	}
	return nil
}
