package haze

import (
	"errors"
	"io"
	"path"
	"strings"

	"github.com/ITotalJustice/libhaze/ptp"
)

func (r *PtpResponder) getDeviceInfo(dp *DataParser) ([]uint32, error) {
	if err := dp.Finalize(); err != nil {
		return nil, err
	}
	return nil, r.sendData(func(w io.Writer) error {
		return ptp.Encode(w, &r.info)
	})
}

func (r *PtpResponder) openSession(dp *DataParser) ([]uint32, error) {
	sid, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	if sid == 0 {
		return nil, ptp.RCError(ptp.RC_InvalidParameter)
	}
	if r.sessionOpen {
		return nil, ptp.RCError(ptp.RC_SessionAlreadyOpened)
	}

	r.sessionOpen = true
	r.sessionID = sid
	r.heap.Clear()
	r.sink.session(CallbackOpenSession)
	r.logs.MTP.Infof("session %d opened", sid)
	return nil, nil
}

func (r *PtpResponder) opCloseSession(dp *DataParser) ([]uint32, error) {
	if err := dp.Finalize(); err != nil {
		return nil, err
	}
	r.logs.MTP.Infof("session %d closed", r.sessionID)
	r.closeSession()
	return nil, nil
}

func (r *PtpResponder) getStorageIDs(dp *DataParser) ([]uint32, error) {
	if err := dp.Finalize(); err != nil {
		return nil, err
	}
	return nil, r.sendData(func(w io.Writer) error {
		return putArrayUint32(w, r.fs.StorageIDs())
	})
}

func (r *PtpResponder) getStorageInfo(dp *DataParser) ([]uint32, error) {
	sid, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	info, err := r.fs.StorageInfo(sid)
	if err != nil {
		return nil, err
	}
	return nil, r.sendData(func(w io.Writer) error {
		return ptp.Encode(w, &info)
	})
}

func (r *PtpResponder) getObjectHandles(dp *DataParser) ([]uint32, error) {
	storage, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	format, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	assoc, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	if format != 0 {
		return nil, ptp.RCError(ptp.RC_SpecificationByFormatUnsupported)
	}

	var handles []uint32
	collect := func(storageID, parentHandle uint32, rel string) error {
		ents, err := r.fs.List(storageID, rel)
		if err != nil {
			return err
		}
		for _, ent := range ents {
			obj := r.heap.Intern(storageID, parentHandle, ent.Name())
			handles = append(handles, obj.Handle)
		}
		return nil
	}

	if assoc != ptp.HANDLE_ROOT && assoc != 0 {
		obj := r.heap.Get(assoc)
		if obj == nil {
			return nil, ptp.RCError(ptp.RC_InvalidObjectHandle)
		}
		if storage != ptp.HANDLE_ROOT && storage != obj.StorageID {
			return nil, ptp.RCError(ptp.RC_InvalidObjectHandle)
		}
		rel, err := r.heap.Resolve(obj)
		if err != nil {
			return nil, ptp.RCError(ptp.RC_InvalidObjectHandle)
		}
		fi, err := r.fs.Stat(obj.StorageID, rel)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			return nil, ptp.RCError(ptp.RC_InvalidParentObject)
		}
		if err := collect(obj.StorageID, obj.Handle, rel); err != nil {
			return nil, err
		}
	} else {
		ids := r.fs.StorageIDs()
		if storage != ptp.HANDLE_ROOT {
			if _, err := r.fs.Entry(storage); err != nil {
				return nil, err
			}
			ids = []uint32{storage}
		}
		for _, id := range ids {
			if err := collect(id, 0, ""); err != nil {
				return nil, err
			}
		}
	}

	r.logs.MTP.Debugf("enumerated %d handles", len(handles))
	return nil, r.sendData(func(w io.Writer) error {
		return putArrayUint32(w, handles)
	})
}

// resolveObject fetches and path-resolves a handle.
func (r *PtpResponder) resolveObject(handle uint32) (*Object, string, error) {
	obj := r.heap.Get(handle)
	if obj == nil {
		return nil, "", ptp.RCError(ptp.RC_InvalidObjectHandle)
	}
	rel, err := r.heap.Resolve(obj)
	if err != nil {
		return nil, "", ptp.RCError(ptp.RC_InvalidObjectHandle)
	}
	return obj, rel, nil
}

const maxObjectSize32 = 0xFFFFFFFF

func (r *PtpResponder) getObjectInfo(dp *DataParser) ([]uint32, error) {
	handle, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	obj, rel, err := r.resolveObject(handle)
	if err != nil {
		return nil, err
	}
	fi, err := r.fs.Stat(obj.StorageID, rel)
	if err != nil {
		return nil, err
	}

	info := ptp.ObjectInfo{
		StorageID:        obj.StorageID,
		ObjectFormat:     ptp.OFC_Undefined,
		ParentObject:     obj.ParentID,
		Filename:         obj.Name,
		CaptureDate:      fi.ModTime(),
		ModificationDate: fi.ModTime(),
	}
	if fi.IsDir() {
		info.ObjectFormat = ptp.OFC_Association
		info.AssociationType = ptp.AT_GenericFolder
	} else if fi.Size() > maxObjectSize32 {
		info.CompressedSize = maxObjectSize32
	} else {
		info.CompressedSize = uint32(fi.Size())
	}
	obj.Info = &info

	return nil, r.sendData(func(w io.Writer) error {
		return ptp.Encode(w, &info)
	})
}

func (r *PtpResponder) getObject(dp *DataParser) ([]uint32, error) {
	handle, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	obj, rel, err := r.resolveObject(handle)
	if err != nil {
		return nil, err
	}
	fi, err := r.fs.Stat(obj.StorageID, rel)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, ptp.RCError(ptp.RC_InvalidObjectHandle)
	}
	size := fi.Size()

	f, err := r.fs.OpenRead(obj.StorageID, rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	abs, _ := r.fs.Abs(obj.StorageID, rel)
	r.sink.file(CallbackReadBegin, abs)
	defer r.sink.file(CallbackReadEnd, abs)

	r.state = stateExecutingDataIn
	db := NewDataBuilder(r.srv)
	if err := db.WriteContainerHeader(ptp.USB_CONTAINER_DATA, r.reqHeader.Code, r.tid, size); err != nil {
		return nil, err
	}

	rfunc := func(dst []byte, offset int64) (int, error) {
		n, err := f.ReadAt(dst, offset)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		return n, err
	}
	wfunc := func(src []byte, offset int64) error {
		if err := db.WriteBuffer(src); err != nil {
			return err
		}
		r.sink.progress(CallbackReadProgress, offset+int64(len(src)), size, int64(len(src)))
		return nil
	}

	delivered, err := Transfer(size, rfunc, wfunc, r.xferBufSize, SingleThreadedIfSmaller, r.stop, r.logs.Xfer)
	if err != nil {
		return nil, err
	}
	if delivered != size {
		return nil, ErrIncompleteTransfer
	}
	return nil, db.Commit()
}

func (r *PtpResponder) deleteObject(dp *DataParser) ([]uint32, error) {
	handle, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	obj, rel, err := r.resolveObject(handle)
	if err != nil {
		return nil, err
	}

	partial, err := r.fs.DeleteTree(obj.StorageID, rel)
	if err != nil {
		if partial {
			return nil, ptp.RCError(ptp.RC_PartialDeletion)
		}
		return nil, err
	}
	r.heap.RemoveSubtree(obj)
	return nil, nil
}

// validFilename rejects names that would escape the parent directory.
func validFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}

// resolveParent maps a parent handle parameter to (parent handle, rel
// path). 0 and 0xFFFFFFFF both denote the storage root.
func (r *PtpResponder) resolveParent(storage, parentParam uint32) (uint32, string, error) {
	if parentParam == 0 || parentParam == ptp.HANDLE_ROOT {
		return 0, "", nil
	}
	obj := r.heap.Get(parentParam)
	if obj == nil || obj.StorageID != storage {
		return 0, "", ptp.RCError(ptp.RC_InvalidParentObject)
	}
	rel, err := r.heap.Resolve(obj)
	if err != nil {
		return 0, "", ptp.RCError(ptp.RC_InvalidParentObject)
	}
	fi, err := r.fs.Stat(storage, rel)
	if err != nil || !fi.IsDir() {
		return 0, "", ptp.RCError(ptp.RC_InvalidParentObject)
	}
	return obj.Handle, rel, nil
}

func (r *PtpResponder) sendObjectInfo(dp *DataParser) ([]uint32, error) {
	storage, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	parentParam, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	dp2, _, err := r.readDataPhase()
	if err != nil {
		return nil, err
	}
	// Drain whatever is left of the data phase on every exit so the
	// next command decodes cleanly.
	defer dp2.Finalize()

	var info ptp.ObjectInfo
	if err := ptp.Decode(dp2, &info); err != nil {
		return nil, ptp.RCError(ptp.RC_GeneralError)
	}
	if err := dp2.Finalize(); err != nil {
		return nil, err
	}

	// Storage 0 means the device chooses; the first storage is the
	// default.
	if storage == 0 || storage == ptp.HANDLE_ROOT {
		storage = r.fs.StorageIDs()[0]
	}
	if err := r.fs.checkWritable(storage); err != nil {
		return nil, err
	}
	parentHandle, parentRel, err := r.resolveParent(storage, parentParam)
	if err != nil {
		return nil, err
	}
	if !validFilename(info.Filename) {
		return nil, ptp.RCError(ptp.RC_InvalidParameter)
	}
	rel := path.Join(parentRel, info.Filename)

	if info.ObjectFormat == ptp.OFC_Association {
		if err := r.fs.Mkdir(storage, rel); err != nil {
			return nil, err
		}
	} else {
		f, err := r.fs.CreateFile(storage, rel)
		if err != nil {
			return nil, err
		}
		f.Close()
	}

	obj := r.heap.Intern(storage, parentHandle, info.Filename)
	obj.Info = &info
	if info.ObjectFormat != ptp.OFC_Association {
		r.pending = &pendingObject{obj: obj, size: int64(info.CompressedSize)}
	}

	return []uint32{storage, parentParam, obj.Handle}, nil
}

func (r *PtpResponder) sendObject(dp *DataParser) ([]uint32, error) {
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	if r.pending == nil {
		return nil, ptp.RCError(ptp.RC_NoValidObjectInfo)
	}
	pend := r.pending
	r.pending = nil

	rel, err := r.heap.Resolve(pend.obj)
	if err != nil {
		return nil, ptp.RCError(ptp.RC_InvalidObjectHandle)
	}

	dp2, _, err := r.readDataPhase()
	if err != nil {
		return nil, err
	}
	defer dp2.Finalize()

	f, err := r.fs.OpenWrite(pend.obj.StorageID, rel)
	if err != nil {
		return nil, err
	}

	abs, _ := r.fs.Abs(pend.obj.StorageID, rel)
	r.sink.file(CallbackWriteBegin, abs)
	defer r.sink.file(CallbackWriteEnd, abs)

	size := pend.size
	rfunc := func(dst []byte, offset int64) (int, error) {
		if dp2.buffered() > 0 {
			return dp2.drainBuffered(dst), nil
		}
		n, err := dp2.ReadBufferInPlace(dst)
		if errors.Is(err, ErrEndOfTransmission) {
			return n, nil
		}
		return n, err
	}
	wfunc := func(src []byte, offset int64) error {
		if _, err := f.WriteAt(src, offset); err != nil {
			return err
		}
		r.sink.progress(CallbackWriteProgress, offset+int64(len(src)), size, int64(len(src)))
		return nil
	}

	delivered, xferErr := Transfer(size, rfunc, wfunc, r.xferBufSize, SingleThreadedIfSmaller, r.stop, r.logs.Xfer)
	if err := f.Close(); err != nil && xferErr == nil {
		xferErr = err
	}
	if ferr := dp2.Finalize(); ferr != nil && xferErr == nil && isSessionFatal(ferr) {
		xferErr = ferr
	}
	if xferErr != nil {
		return nil, xferErr
	}
	if delivered != size {
		return nil, ErrIncompleteTransfer
	}
	return nil, nil
}

func (r *PtpResponder) moveObject(dp *DataParser) ([]uint32, error) {
	handle, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	dstStorage, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	dstParent, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	obj, srcRel, err := r.resolveObject(handle)
	if err != nil {
		return nil, err
	}
	if dstStorage == 0 {
		dstStorage = obj.StorageID
	}
	parentHandle, parentRel, err := r.resolveParent(dstStorage, dstParent)
	if err != nil {
		return nil, err
	}

	fi, err := r.fs.Stat(obj.StorageID, srcRel)
	if err != nil {
		return nil, err
	}
	dstRel := path.Join(parentRel, obj.Name)

	if err := r.fs.Move(obj.StorageID, srcRel, dstStorage, dstRel, fi.IsDir()); err != nil {
		return nil, err
	}
	r.heap.Reparent(obj, dstStorage, parentHandle)
	return nil, nil
}
