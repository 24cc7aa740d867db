package haze

import (
	"io"
	"path"

	"github.com/ITotalJustice/libhaze/ptp"
)

// MTP object and device property operations. The property set is the
// minimum a desktop OS needs to mount the device and rename entries.

func isSupportedObjectProp(code uint16) bool {
	for _, c := range supportedObjectProps {
		if c == code {
			return true
		}
	}
	return false
}

func (r *PtpResponder) devicePropValue(code uint16) (string, error) {
	switch code {
	case ptp.DPC_DeviceFriendlyName:
		return r.friendlyName, nil
	case ptp.DPC_SynchronizationPartner:
		return r.syncPartner, nil
	default:
		return "", ptp.RCError(ptp.RC_DevicePropNotSupported)
	}
}

func (r *PtpResponder) getDevicePropDesc(dp *DataParser) ([]uint32, error) {
	code, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	val, err := r.devicePropValue(uint16(code))
	if err != nil {
		return nil, err
	}
	return nil, r.sendData(func(w io.Writer) error {
		if err := putUint16(w, uint16(code)); err != nil {
			return err
		}
		if err := putUint16(w, ptp.DTC_STR); err != nil {
			return err
		}
		if err := putUint8(w, ptp.DPGS_Get); err != nil {
			return err
		}
		if err := putString(w, val); err != nil { // factory default
			return err
		}
		if err := putString(w, val); err != nil { // current
			return err
		}
		return putUint8(w, ptp.DPFF_None)
	})
}

func (r *PtpResponder) getDevicePropValue(dp *DataParser) ([]uint32, error) {
	code, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	val, err := r.devicePropValue(uint16(code))
	if err != nil {
		return nil, err
	}
	return nil, r.sendData(func(w io.Writer) error {
		return putString(w, val)
	})
}

func (r *PtpResponder) getObjectPropsSupported(dp *DataParser) ([]uint32, error) {
	if _, err := dp.ReadUint32(); err != nil { // object format, unused
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}
	return nil, r.sendData(func(w io.Writer) error {
		return putArrayUint16(w, supportedObjectProps)
	})
}

func (r *PtpResponder) getObjectPropDesc(dp *DataParser) ([]uint32, error) {
	prop, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if _, err := dp.ReadUint32(); err != nil { // object format, unused
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	code := uint16(prop)
	if !isSupportedObjectProp(code) {
		return nil, ptp.RCError(ptp.RC_MTP_ObjectProp_Not_Supported)
	}

	return nil, r.sendData(func(w io.Writer) error {
		if err := putUint16(w, code); err != nil {
			return err
		}

		// Each property has a data type, a get/set flag and a default
		// value.
		var err error
		switch code {
		case ptp.OPC_PersistentUniqueObjectIdentifier:
			err = writeAll(w,
				func() error { return putUint16(w, ptp.DTC_UINT128) },
				func() error { return putUint8(w, ptp.DPGS_Get) },
				func() error { return putUint128(w, 0) },
			)
		case ptp.OPC_ObjectSize:
			err = writeAll(w,
				func() error { return putUint16(w, ptp.DTC_UINT64) },
				func() error { return putUint8(w, ptp.DPGS_Get) },
				func() error { return putUint64(w, 0) },
			)
		case ptp.OPC_StorageID, ptp.OPC_ParentObject:
			err = writeAll(w,
				func() error { return putUint16(w, ptp.DTC_UINT32) },
				func() error { return putUint8(w, ptp.DPGS_Get) },
				func() error { return putUint32(w, 0) },
			)
		case ptp.OPC_ObjectFormat:
			err = writeAll(w,
				func() error { return putUint16(w, ptp.DTC_UINT16) },
				func() error { return putUint8(w, ptp.DPGS_Get) },
				func() error { return putUint16(w, ptp.OFC_Undefined) },
			)
		case ptp.OPC_ObjectFileName:
			err = writeAll(w,
				func() error { return putUint16(w, ptp.DTC_STR) },
				func() error { return putUint8(w, ptp.DPGS_GetSet) },
				func() error { return putString(w, "") },
			)
		}
		if err != nil {
			return err
		}

		if err := putUint32(w, ptp.GroupCode_Default); err != nil {
			return err
		}
		return putUint8(w, ptp.DPFF_None)
	})
}

func writeAll(w io.Writer, fns ...func() error) error {
	for _, fn := range fns {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// objectSize stats the object; directories report zero.
func (r *PtpResponder) objectSize(obj *Object, rel string) (int64, error) {
	fi, err := r.fs.Stat(obj.StorageID, rel)
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, nil
	}
	return fi.Size(), nil
}

// writeObjectPropValue emits the value of one property, prefixed with
// its data type code when withType is set (the prop-list element
// format).
func (r *PtpResponder) writeObjectPropValue(w io.Writer, obj *Object, rel string, code uint16, withType bool) error {
	typed := func(dtc uint16) error {
		if !withType {
			return nil
		}
		return putUint16(w, dtc)
	}

	switch code {
	case ptp.OPC_PersistentUniqueObjectIdentifier:
		if err := typed(ptp.DTC_UINT128); err != nil {
			return err
		}
		return putUint128(w, uint64(obj.Handle))
	case ptp.OPC_ObjectSize:
		size, err := r.objectSize(obj, rel)
		if err != nil {
			return err
		}
		if err := typed(ptp.DTC_UINT64); err != nil {
			return err
		}
		return putUint64(w, uint64(size))
	case ptp.OPC_StorageID:
		if err := typed(ptp.DTC_UINT32); err != nil {
			return err
		}
		return putUint32(w, obj.StorageID)
	case ptp.OPC_ParentObject:
		if err := typed(ptp.DTC_UINT32); err != nil {
			return err
		}
		return putUint32(w, obj.ParentID)
	case ptp.OPC_ObjectFormat:
		fi, err := r.fs.Stat(obj.StorageID, rel)
		if err != nil {
			return err
		}
		format := uint16(ptp.OFC_Undefined)
		if fi.IsDir() {
			format = ptp.OFC_Association
		}
		if err := typed(ptp.DTC_UINT16); err != nil {
			return err
		}
		return putUint16(w, format)
	case ptp.OPC_ObjectFileName:
		if err := typed(ptp.DTC_STR); err != nil {
			return err
		}
		return putString(w, obj.Name)
	default:
		return ptp.RCError(ptp.RC_MTP_ObjectProp_Not_Supported)
	}
}

func (r *PtpResponder) getObjectPropValue(dp *DataParser) ([]uint32, error) {
	handle, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	prop, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	code := uint16(prop)
	if !isSupportedObjectProp(code) {
		return nil, ptp.RCError(ptp.RC_MTP_ObjectProp_Not_Supported)
	}
	obj, rel, err := r.resolveObject(handle)
	if err != nil {
		return nil, err
	}

	return nil, r.sendData(func(w io.Writer) error {
		return r.writeObjectPropValue(w, obj, rel, code, false)
	})
}

func (r *PtpResponder) setObjectPropValue(dp *DataParser) ([]uint32, error) {
	handle, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	prop, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	if uint16(prop) != ptp.OPC_ObjectFileName {
		return nil, ptp.RCError(ptp.RC_MTP_ObjectProp_Not_Supported)
	}
	obj, rel, err := r.resolveObject(handle)
	if err != nil {
		return nil, err
	}

	dp2, _, err := r.readDataPhase()
	if err != nil {
		return nil, err
	}
	defer dp2.Finalize()

	newName, err := dp2.ReadString()
	if err != nil {
		return nil, err
	}
	if err := dp2.Finalize(); err != nil {
		return nil, err
	}

	if !validFilename(newName) {
		return nil, ptp.RCError(ptp.RC_MTP_Invalid_ObjectProp_Value)
	}

	fi, err := r.fs.Stat(obj.StorageID, rel)
	if err != nil {
		return nil, err
	}
	newRel := path.Join(path.Dir(rel), newName)
	if err := r.fs.Rename(obj.StorageID, rel, newRel, fi.IsDir()); err != nil {
		return nil, err
	}
	r.heap.Rename(obj, newName)
	return nil, nil
}

func (r *PtpResponder) getObjectPropList(dp *DataParser) ([]uint32, error) {
	handle, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	format, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	prop, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	group, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	depth, err := dp.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := dp.Finalize(); err != nil {
		return nil, err
	}

	if format != 0 {
		return nil, ptp.RCError(ptp.RC_InvalidParameter)
	}
	if prop != ptp.HANDLE_ROOT && !isSupportedObjectProp(uint16(prop)) {
		return nil, ptp.RCError(ptp.RC_MTP_ObjectProp_Not_Supported)
	}
	if group != ptp.GroupCode_Default {
		return nil, ptp.RCError(ptp.RC_MTP_Specification_By_Group_Unsupported)
	}
	if depth != 0 {
		return nil, ptp.RCError(ptp.RC_MTP_Specification_By_Depth_Unsupported)
	}

	obj, rel, err := r.resolveObject(handle)
	if err != nil {
		return nil, err
	}

	include := func(code uint16) bool {
		return prop == ptp.HANDLE_ROOT || code == uint16(prop)
	}
	count := uint32(0)
	for _, code := range supportedObjectProps {
		if include(code) {
			count++
		}
	}

	return nil, r.sendData(func(w io.Writer) error {
		if err := putUint32(w, count); err != nil {
			return err
		}
		for _, code := range supportedObjectProps {
			if !include(code) {
				continue
			}
			if err := putUint32(w, obj.Handle); err != nil {
				return err
			}
			if err := putUint16(w, code); err != nil {
				return err
			}
			if err := r.writeObjectPropValue(w, obj, rel, code, true); err != nil {
				return err
			}
		}
		return nil
	})
}
