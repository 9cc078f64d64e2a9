//go:build linux

package bootstrap

import "golang.org/x/sys/unix"

// setAffinity pins the calling OS thread to cpu, the same
// SchedSetaffinity call the teacher's queue runners use to keep a
// queue's I/O loop on one core. Failure is not fatal; the thread just
// runs without a pinned affinity.
func setAffinity(cpu int) error {
	var mask unix.CPUSet
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
