//go:build linux

package events

//go:generate clang -O2 -g -target bpf -D__TARGET_ARCH_x86 -I../../../bpf -c ../../../bpf/events.bpf.c -o ../../../bpf/events.bpf.o
