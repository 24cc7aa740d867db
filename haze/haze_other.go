//go:build !linux

package haze

import "github.com/ITotalJustice/libhaze/log"

func applyThreadTuning(prio, cpuid int, lg *log.ChildLogger) {
	if prio != 0 || cpuid >= 0 {
		lg.Debug("thread tuning is not supported on this platform")
	}
}
