package haze

import "unsafe"

const pageSize = 0x1000

// alignedBuffer returns a buffer of length n whose base address is
// page aligned, so it can be handed to the zero-copy bulk read path.
func alignedBuffer(n int) []byte {
	raw := make([]byte, n+pageSize)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) & (pageSize - 1)); rem != 0 {
		off = pageSize - rem
	}
	return raw[off : off+n : off+n]
}

func isPageAligned(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	return uintptr(unsafe.Pointer(&b[0]))&(pageSize-1) == 0
}
