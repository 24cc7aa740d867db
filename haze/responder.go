package haze

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/google/uuid"

	"github.com/ITotalJustice/libhaze/log"
	"github.com/ITotalJustice/libhaze/ptp"
)

type responderState int

const (
	stateIdle responderState = iota
	stateAwaitCommand
	stateDecodingCommand
	stateExecutingNoData
	stateExecutingDataIn
	stateExecutingDataOut
	stateSendingResponse
	stateSessionClosed
	stateFatal
)

var stateNames = map[responderState]string{
	stateIdle:             "Idle",
	stateAwaitCommand:     "AwaitCommand",
	stateDecodingCommand:  "DecodingCommand",
	stateExecutingNoData:  "ExecutingNoData",
	stateExecutingDataIn:  "ExecutingDataIn",
	stateExecutingDataOut: "ExecutingDataOut",
	stateSendingResponse:  "SendingResponse",
	stateSessionClosed:    "SessionClosed",
	stateFatal:            "Fatal",
}

func (s responderState) String() string { return stateNames[s] }

// The operation set reported in DeviceInfo. Everything listed here has
// a handler.
var supportedOperations = []uint16{
	ptp.OC_GetDeviceInfo,
	ptp.OC_OpenSession,
	ptp.OC_CloseSession,
	ptp.OC_GetStorageIDs,
	ptp.OC_GetStorageInfo,
	ptp.OC_GetObjectHandles,
	ptp.OC_GetObjectInfo,
	ptp.OC_GetObject,
	ptp.OC_DeleteObject,
	ptp.OC_SendObjectInfo,
	ptp.OC_SendObject,
	ptp.OC_GetDevicePropDesc,
	ptp.OC_GetDevicePropValue,
	ptp.OC_MoveObject,
	ptp.OC_MTP_GetObjectPropsSupported,
	ptp.OC_MTP_GetObjectPropDesc,
	ptp.OC_MTP_GetObjectPropValue,
	ptp.OC_MTP_SetObjectPropValue,
	ptp.OC_MTP_GetObjPropList,
}

var supportedObjectProps = []uint16{
	ptp.OPC_StorageID,
	ptp.OPC_ObjectFormat,
	ptp.OPC_ObjectSize,
	ptp.OPC_ObjectFileName,
	ptp.OPC_ParentObject,
	ptp.OPC_PersistentUniqueObjectIdentifier,
}

// pendingObject couples SendObjectInfo with the SendObject that must
// follow it in the same session.
type pendingObject struct {
	obj  *Object
	size int64
}

// PtpResponder is the transaction state machine: it decodes one
// command container per reactor dispatch, executes it, streams the
// data phase if any, and answers with a response container.
type PtpResponder struct {
	srv  *AsyncUsbServer
	heap *ObjectHeap
	fs   *FilesystemProxy
	sink *callbackSink
	logs *log.Children
	stop <-chan struct{}

	state       responderState
	sessionOpen bool
	sessionID   uint32
	tid         uint32
	reqHeader   ptp.BulkHeader

	pending *pendingObject

	info         ptp.DeviceInfo
	friendlyName string
	syncPartner  string

	readBuf     []byte
	xferBufSize int
}

func NewPtpResponder(srv *AsyncUsbServer, heap *ObjectHeap, fsp *FilesystemProxy, sink *callbackSink, logs *log.Children, stop <-chan struct{}, cfg *Config) *PtpResponder {
	r := &PtpResponder{
		srv:          srv,
		heap:         heap,
		fs:           fsp,
		sink:         sink,
		logs:         logs,
		stop:         stop,
		state:        stateIdle,
		friendlyName: cfg.FriendlyName,
		syncPartner:  "",
		readBuf:      alignedBuffer(srv.MaxPacketSize()),
		xferBufSize:  cfg.TransferBufferSize,
	}
	if r.xferBufSize <= 0 {
		r.xferBufSize = DefaultTransferBufferSize
	}
	if r.friendlyName == "" {
		r.friendlyName = cfg.Model
	}

	serial := cfg.SerialNumber
	if serial == "" {
		serial = uuid.NewString()
	}
	r.info = ptp.DeviceInfo{
		StandardVersion:      100,
		MTPVendorExtensionID: 0x06,
		MTPVersion:           100,
		MTPExtension:         "microsoft.com: 1.0;",
		FunctionalMode:       ptp.FM_Standard,
		OperationsSupported:  supportedOperations,
		DevicePropertiesSupported: []uint16{
			ptp.DPC_SynchronizationPartner,
			ptp.DPC_DeviceFriendlyName,
		},
		PlaybackFormats: []uint16{ptp.OFC_Undefined, ptp.OFC_Association},
		Manufacturer:    cfg.Manufacturer,
		Model:           cfg.Model,
		DeviceVersion:   cfg.DeviceVersion,
		SerialNumber:    serial,
	}
	return r
}

// Finalize tears the responder down after the reactor loop exits,
// closing the session if one is open.
func (r *PtpResponder) Finalize() {
	if r.sessionOpen {
		r.closeSession()
	}
	r.state = stateSessionClosed
}

func (r *PtpResponder) closeSession() {
	r.heap.Clear()
	r.pending = nil
	r.sessionOpen = false
	r.sink.session(CallbackCloseSession)
}

// ProcessEvent serves one request. Only session-fatal conditions
// (cancellation, focus loss, transport death) return an error; every
// protocol or filesystem failure is answered on the wire.
func (r *PtpResponder) ProcessEvent() error {
	err := r.handleRequest()
	if err != nil && isSessionFatal(err) {
		r.state = stateFatal
		return err
	}
	return nil
}

func (r *PtpResponder) handleRequest() error {
	r.state = stateAwaitCommand
	dp := NewDataParser(r.srv, r.readBuf)

	hdr, err := dp.ReadContainerHeader()
	if err != nil {
		if isSessionFatal(err) {
			return err
		}
		// Stray short transmission: resync and wait for the next one.
		r.logs.MTP.Debugf("dropping malformed transmission: %v", err)
		return dp.Finalize()
	}
	r.state = stateDecodingCommand

	if hdr.Type != ptp.USB_CONTAINER_COMMAND || hdr.Length < ptp.HdrLen || hdr.Length > ptp.BulkLen {
		r.logs.MTP.Warningf("protocol violation: %s container (code %#x) while awaiting command",
			ptp.USB_names[int(hdr.Type)], hdr.Code)
		if err := dp.Finalize(); err != nil && isSessionFatal(err) {
			return err
		}
		return r.writeResponse(hdr.TransactionID, ptp.RC_GeneralError)
	}

	r.reqHeader = hdr

	if hdr.Code != ptp.OC_OpenSession && r.sessionOpen && hdr.TransactionID != r.tid+1 {
		r.logs.MTP.Warningf("transaction id %d out of order, want %d", hdr.TransactionID, r.tid+1)
		if err := dp.Finalize(); err != nil && isSessionFatal(err) {
			return err
		}
		return r.writeResponse(hdr.TransactionID, ptp.RC_InvalidTransactionID)
	}
	r.tid = hdr.TransactionID

	// An intervening command discards a pending SendObjectInfo.
	if r.pending != nil && hdr.Code != ptp.OC_SendObject {
		r.logs.MTP.Debug("discarding pending object info")
		r.pending = nil
	}

	r.logs.MTP.Debugf("request %s tid=%d", ptp.OCName(hdr.Code), hdr.TransactionID)

	handler, needsSession := r.lookup(hdr.Code)
	if handler == nil {
		if err := dp.Finalize(); err != nil && isSessionFatal(err) {
			return err
		}
		return r.writeResponse(r.tid, ptp.RC_OperationNotSupported)
	}
	if needsSession && !r.sessionOpen {
		if err := dp.Finalize(); err != nil && isSessionFatal(err) {
			return err
		}
		return r.writeResponse(r.tid, ptp.RC_SessionNotOpen)
	}

	r.state = stateExecutingNoData
	params, err := handler(dp)
	if err != nil {
		if isSessionFatal(err) {
			return err
		}
		r.logs.MTP.Warningf("%s failed: %v", ptp.OCName(hdr.Code), err)
		// Resync the pipe before answering in case the data phase was
		// half consumed.
		if ferr := dp.Finalize(); ferr != nil && isSessionFatal(ferr) {
			return ferr
		}
		return r.writeResponse(r.tid, errToResponseCode(err))
	}
	return r.writeResponse(r.tid, ptp.RC_OK, params...)
}

type opHandler func(dp *DataParser) ([]uint32, error)

// lookup resolves the handler for an operation code and whether it
// requires an open session.
func (r *PtpResponder) lookup(code uint16) (opHandler, bool) {
	switch code {
	case ptp.OC_GetDeviceInfo:
		return r.getDeviceInfo, false
	case ptp.OC_OpenSession:
		return r.openSession, false
	case ptp.OC_CloseSession:
		return r.opCloseSession, true
	case ptp.OC_GetStorageIDs:
		return r.getStorageIDs, true
	case ptp.OC_GetStorageInfo:
		return r.getStorageInfo, true
	case ptp.OC_GetObjectHandles:
		return r.getObjectHandles, true
	case ptp.OC_GetObjectInfo:
		return r.getObjectInfo, true
	case ptp.OC_GetObject:
		return r.getObject, true
	case ptp.OC_DeleteObject:
		return r.deleteObject, true
	case ptp.OC_SendObjectInfo:
		return r.sendObjectInfo, true
	case ptp.OC_SendObject:
		return r.sendObject, true
	case ptp.OC_MoveObject:
		return r.moveObject, true
	case ptp.OC_GetDevicePropDesc:
		return r.getDevicePropDesc, false
	case ptp.OC_GetDevicePropValue:
		return r.getDevicePropValue, false
	case ptp.OC_MTP_GetObjectPropsSupported:
		return r.getObjectPropsSupported, true
	case ptp.OC_MTP_GetObjectPropDesc:
		return r.getObjectPropDesc, true
	case ptp.OC_MTP_GetObjectPropValue:
		return r.getObjectPropValue, true
	case ptp.OC_MTP_SetObjectPropValue:
		return r.setObjectPropValue, true
	case ptp.OC_MTP_GetObjPropList:
		return r.getObjectPropList, true
	default:
		return nil, false
	}
}

// writeResponse sends a response container. Responses are at most one
// bulk transfer; parameters beyond those needed are omitted from the
// length.
func (r *PtpResponder) writeResponse(tid uint32, code uint16, params ...uint32) error {
	r.state = stateSendingResponse
	buf := make([]byte, ptp.HdrLen+4*len(params))
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(buf)))
	binary.LittleEndian.PutUint16(buf[4:], ptp.USB_CONTAINER_RESPONSE)
	binary.LittleEndian.PutUint16(buf[6:], code)
	binary.LittleEndian.PutUint32(buf[8:], tid)
	for i, p := range params {
		binary.LittleEndian.PutUint32(buf[ptp.HdrLen+4*i:], p)
	}

	r.logs.MTP.Debugf("response %s %v tid=%d", ptp.RCName(code), params, tid)
	if err := r.srv.WritePacket(buf); err != nil {
		return err
	}
	r.state = stateAwaitCommand
	return nil
}

// sendData emits one Data container whose payload is produced by fill.
func (r *PtpResponder) sendData(fill func(w io.Writer) error) error {
	r.state = stateExecutingDataIn
	var payload bytes.Buffer
	if err := fill(&payload); err != nil {
		return err
	}
	db := NewDataBuilder(r.srv)
	if err := db.WriteContainerHeader(ptp.USB_CONTAINER_DATA, r.reqHeader.Code, r.tid, int64(payload.Len())); err != nil {
		return err
	}
	if err := db.WriteBuffer(payload.Bytes()); err != nil {
		return err
	}
	return db.Commit()
}

// readDataPhase starts parsing the host-to-device data phase of the
// current transaction and validates its header.
func (r *PtpResponder) readDataPhase() (*DataParser, ptp.BulkHeader, error) {
	r.state = stateExecutingDataOut
	dp := NewDataParser(r.srv, r.readBuf)
	hdr, err := dp.ReadContainerHeader()
	if err != nil {
		return nil, hdr, err
	}
	if hdr.Type != ptp.USB_CONTAINER_DATA || hdr.Code != r.reqHeader.Code || hdr.TransactionID != r.tid {
		dp.Finalize()
		return nil, hdr, ptp.RCError(ptp.RC_GeneralError)
	}
	return dp, hdr, nil
}
