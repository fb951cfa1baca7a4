//go:build !linux

package hw

import "fmt"

// MapBAR is only available on Linux; other platforms can still drive a
// simulated controller through NewRegisters.
func MapBAR(path string, size int) (*Registers, func() error, error) {
	return nil, nil, fmt.Errorf("BAR mapping not supported on this platform")
}
