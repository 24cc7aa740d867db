//go:build linux

package haze

import (
	"golang.org/x/sys/unix"

	"github.com/ITotalJustice/libhaze/log"
	"github.com/ITotalJustice/libhaze/usb"
)

// Initialize starts the responder worker against the platform gadget
// endpoints, mirroring the embedded control surface: a callback, a
// thread priority, a CPU affinity and the storage entries. It returns
// false if an instance is already running, entries is empty, or the
// gadget endpoints cannot be opened.
func Initialize(callback Callback, prio, cpuid int, entries []FsEntry) bool {
	ep, err := usb.OpenFunctionFS(DefaultFunctionFSPath, 0)
	if err != nil {
		log.Root.WithField("prefix", "usb").Errorf("open gadget endpoints: %v", err)
		return false
	}
	ok := InitializeWithEndpoint(ep, &Config{
		Entries:      entries,
		Callback:     callback,
		Priority:     prio,
		CPUAffinity:  cpuid,
		Manufacturer: "libhaze",
		Model:        "libhaze",
	})
	if !ok {
		ep.Close()
	}
	return ok
}

// applyThreadTuning pins the locked responder thread and adjusts its
// nice value. Both are advisory; failures are logged and ignored.
func applyThreadTuning(prio, cpuid int, lg *log.ChildLogger) {
	if cpuid >= 0 {
		var set unix.CPUSet
		set.Zero()
		set.Set(cpuid)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			lg.Warningf("set cpu affinity %d: %v", cpuid, err)
		}
	}
	if prio != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, prio); err != nil {
			lg.Warningf("set priority %d: %v", prio, err)
		}
	}
}
