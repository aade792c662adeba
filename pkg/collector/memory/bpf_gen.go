//go:build linux

package memory

//go:generate clang -O2 -g -target bpf -D__TARGET_ARCH_x86 -I../../../bpf -c ../../../bpf/faults.bpf.c -o ../../../bpf/faults.bpf.o
