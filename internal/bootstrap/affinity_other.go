//go:build !linux

package bootstrap

// setAffinity is a no-op off Linux; CPU pinning has no portable
// equivalent and production deployments of this runtime target Linux.
func setAffinity(cpu int) error { return nil }
