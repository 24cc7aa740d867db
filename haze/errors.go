package haze

import (
	"errors"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ITotalJustice/libhaze/ptp"
)

// Control-plane and transport sentinels. Only ErrStopRequested,
// ErrFocusLost and transport death escape the responder loop; every
// other failure is converted to a PTP response code.
var (
	ErrEndOfTransmission  = errors.New("haze: end of transmission")
	ErrTransportCancelled = errors.New("haze: transport cancelled")
	ErrBufferNotAligned   = errors.New("haze: buffer not page aligned")
	ErrStopRequested      = errors.New("haze: stop requested")
	ErrFocusLost          = errors.New("haze: focus lost")
	ErrStoreReadOnly      = errors.New("haze: storage is read-only")
	ErrIncompleteTransfer = errors.New("haze: incomplete transfer")
)

// errToResponseCode maps an operation error onto the PTP response code
// reported to the host.
func errToResponseCode(err error) uint16 {
	var rc ptp.RCError
	switch {
	case err == nil:
		return ptp.RC_OK
	case errors.As(err, &rc):
		return uint16(rc)
	case errors.Is(err, ErrStoreReadOnly):
		return ptp.RC_StoreReadOnly
	case errors.Is(err, ErrIncompleteTransfer):
		return ptp.RC_IncompleteTransfer
	case errors.Is(err, ErrBufferNotAligned):
		return ptp.RC_GeneralError
	case errors.Is(err, os.ErrNotExist), errors.Is(err, fs.ErrNotExist):
		return ptp.RC_InvalidObjectHandle
	case errors.Is(err, os.ErrPermission), errors.Is(err, fs.ErrPermission):
		return ptp.RC_AccessDenied
	case errors.Is(err, unix.ENOSPC):
		return ptp.RC_StoreFull
	default:
		return ptp.RC_GeneralError
	}
}

// isSessionFatal reports whether err must terminate the responder loop
// rather than be answered with a response container.
func isSessionFatal(err error) bool {
	return errors.Is(err, ErrStopRequested) ||
		errors.Is(err, ErrFocusLost) ||
		errors.Is(err, ErrTransportCancelled)
}
