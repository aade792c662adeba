// Command waitlens accounts where every process spends its time: on CPU,
// waiting for the run queue, disk, locks, network, memory or the GPU.
package main

import (
	"github.com/tebeka/atexit"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
