//go:build !giouring
// +build !giouring

package dispatch

import "fmt"

// NewIOURingBackend is available when built with -tags giouring.
func NewIOURingBackend(entries uint32) (Backend, error) {
	return nil, fmt.Errorf("giouring backend not enabled; build with -tags giouring")
}
