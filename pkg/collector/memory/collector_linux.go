//go:build linux

package memory

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/srodi/waitlens/pkg/procfs"
)

// faultsObjects mirrors the program and map in bpf/faults.bpf.c.
type faultsObjects struct {
	HandleMmFaultKprobe *ebpf.Program `ebpf:"handle_mm_fault_kprobe"`
	PageFaults          *ebpf.Map     `ebpf:"page_faults"`
}

func (o *faultsObjects) Close() error {
	var err error
	if o.HandleMmFaultKprobe != nil {
		err = errors.Join(err, o.HandleMmFaultKprobe.Close())
	}
	if o.PageFaults != nil {
		err = errors.Join(err, o.PageFaults.Close())
	}
	return err
}

// Collector owns the eBPF program tracking per-PID page faults.
type Collector struct {
	objs faultsObjects
	hook link.Link
}

const resetSweepRetries = 3

// NewCollector loads the page fault tracker from objectPath, sizes its map to
// maxPIDs entries and attaches it to the always-available handle_mm_fault kprobe.
func NewCollector(objectPath string, maxPIDs int) (*Collector, error) {
	spec, err := ebpf.LoadCollectionSpec(objectPath)
	if err != nil {
		return nil, fmt.Errorf("loading memory bpf spec %s: %w", objectPath, err)
	}
	if m, ok := spec.Maps["page_faults"]; ok && maxPIDs > 0 {
		m.MaxEntries = uint32(maxPIDs)
	}

	var objs faultsObjects
	if err := spec.LoadAndAssign(&objs, nil); err != nil {
		return nil, fmt.Errorf("loading memory bpf objects: %w", err)
	}

	kp, kerr := link.Kprobe("handle_mm_fault", objs.HandleMmFaultKprobe, nil)
	if kerr != nil {
		objs.Close()
		return nil, fmt.Errorf("attaching handle_mm_fault kprobe failed: %w", kerr)
	}

	return &Collector{objs: objs, hook: kp}, nil
}

// Close releases the BPF resources.
func (c *Collector) Close() error {
	var err error
	if c.hook != nil {
		err = errors.Join(err, c.hook.Close())
	}
	return errors.Join(err, c.objs.Close())
}

// Drain reports every non-zero count gathered since the previous drain and
// clears the map. Faults counted between the read and the clear are lost.
func (c *Collector) Drain(fn func(Fault)) error {
	iter := c.objs.PageFaults.Iterate()
	var pid uint32
	var stat faultStat
	for iter.Next(&pid, &stat) {
		if stat.Faults == 0 {
			continue
		}
		fn(Fault{PID: pid, TGID: stat.TGID, Faults: stat.Faults, Comm: procfs.CStr(stat.Comm[:])})
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("iterating page fault map: %w", err)
	}
	return c.reset()
}

// reset clears the page fault map for the next interval.
func (c *Collector) reset() error {
	for attempt := 1; attempt <= resetSweepRetries; attempt++ {
		iter := c.objs.PageFaults.Iterate()
		var pid uint32
		var stat faultStat
		for iter.Next(&pid, &stat) {
			if err := c.objs.PageFaults.Delete(&pid); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
				return fmt.Errorf("clearing pid %d: %w", pid, err)
			}
		}
		if err := iter.Err(); err != nil {
			if errors.Is(err, ebpf.ErrIterationAborted) && attempt < resetSweepRetries {
				continue
			}
			return fmt.Errorf("iterating page fault map: %w", err)
		}
		return nil
	}
	return nil
}

type faultStat struct {
	Faults uint64
	TGID   uint32
	_      uint32
	Comm   [16]byte
}
