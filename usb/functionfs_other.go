//go:build !linux

package usb

import "fmt"

// FunctionFS gadgets are a Linux facility.
func OpenFunctionFS(dir string, maxPacket int) (EndpointPair, error) {
	return nil, fmt.Errorf("functionfs: not supported on this platform")
}
