package ptp

// Container types for PTP over USB bulk pipes.
const USB_CONTAINER_UNDEFINED = 0x0000
const USB_CONTAINER_COMMAND = 0x0001
const USB_CONTAINER_DATA = 0x0002
const USB_CONTAINER_RESPONSE = 0x0003
const USB_CONTAINER_EVENT = 0x0004

var USB_names = map[int]string{
	0x0000: "UNDEFINED",
	0x0001: "COMMAND",
	0x0002: "DATA",
	0x0003: "RESPONSE",
	0x0004: "EVENT",
}

// Operation codes.
const OC_GetDeviceInfo = 0x1001
const OC_OpenSession = 0x1002
const OC_CloseSession = 0x1003
const OC_GetStorageIDs = 0x1004
const OC_GetStorageInfo = 0x1005
const OC_GetNumObjects = 0x1006
const OC_GetObjectHandles = 0x1007
const OC_GetObjectInfo = 0x1008
const OC_GetObject = 0x1009
const OC_DeleteObject = 0x100B
const OC_SendObjectInfo = 0x100C
const OC_SendObject = 0x100D
const OC_GetDevicePropDesc = 0x1014
const OC_GetDevicePropValue = 0x1015
const OC_MoveObject = 0x1019
const OC_GetPartialObject = 0x101B
const OC_MTP_GetObjectPropsSupported = 0x9801
const OC_MTP_GetObjectPropDesc = 0x9802
const OC_MTP_GetObjectPropValue = 0x9803
const OC_MTP_SetObjectPropValue = 0x9804
const OC_MTP_GetObjPropList = 0x9805

var OC_names = map[int]string{
	0x1001: "GetDeviceInfo",
	0x1002: "OpenSession",
	0x1003: "CloseSession",
	0x1004: "GetStorageIDs",
	0x1005: "GetStorageInfo",
	0x1006: "GetNumObjects",
	0x1007: "GetObjectHandles",
	0x1008: "GetObjectInfo",
	0x1009: "GetObject",
	0x100B: "DeleteObject",
	0x100C: "SendObjectInfo",
	0x100D: "SendObject",
	0x1014: "GetDevicePropDesc",
	0x1015: "GetDevicePropValue",
	0x1019: "MoveObject",
	0x101B: "GetPartialObject",
	0x9801: "MTP_GetObjectPropsSupported",
	0x9802: "MTP_GetObjectPropDesc",
	0x9803: "MTP_GetObjectPropValue",
	0x9804: "MTP_SetObjectPropValue",
	0x9805: "MTP_GetObjPropList",
}

// Response codes.
const RC_OK = 0x2001
const RC_GeneralError = 0x2002
const RC_SessionNotOpen = 0x2003
const RC_InvalidTransactionID = 0x2004
const RC_OperationNotSupported = 0x2005
const RC_ParameterNotSupported = 0x2006
const RC_IncompleteTransfer = 0x2007
const RC_InvalidStorageId = 0x2008
const RC_InvalidObjectHandle = 0x2009
const RC_DevicePropNotSupported = 0x200A
const RC_InvalidObjectFormatCode = 0x200B
const RC_StoreFull = 0x200C
const RC_ObjectWriteProtected = 0x200D
const RC_StoreReadOnly = 0x200E
const RC_AccessDenied = 0x200F
const RC_PartialDeletion = 0x2012
const RC_StoreNotAvailable = 0x2013
const RC_SpecificationByFormatUnsupported = 0x2014
const RC_NoValidObjectInfo = 0x2015
const RC_InvalidParentObject = 0x201A
const RC_InvalidDevicePropValue = 0x201C
const RC_InvalidParameter = 0x201D
const RC_SessionAlreadyOpened = 0x201E
const RC_TransactionCanceled = 0x201F
const RC_MTP_Invalid_ObjectPropCode = 0xA801
const RC_MTP_Invalid_ObjectProp_Format = 0xA802
const RC_MTP_Invalid_ObjectProp_Value = 0xA803
const RC_MTP_Specification_By_Group_Unsupported = 0xA807
const RC_MTP_Specification_By_Depth_Unsupported = 0xA808
const RC_MTP_Object_Too_Large = 0xA809
const RC_MTP_ObjectProp_Not_Supported = 0xA80A

var RC_names = map[int]string{
	0x2001: "OK",
	0x2002: "GeneralError",
	0x2003: "SessionNotOpen",
	0x2004: "InvalidTransactionID",
	0x2005: "OperationNotSupported",
	0x2006: "ParameterNotSupported",
	0x2007: "IncompleteTransfer",
	0x2008: "InvalidStorageId",
	0x2009: "InvalidObjectHandle",
	0x200A: "DevicePropNotSupported",
	0x200B: "InvalidObjectFormatCode",
	0x200C: "StoreFull",
	0x200D: "ObjectWriteProtected",
	0x200E: "StoreReadOnly",
	0x200F: "AccessDenied",
	0x2012: "PartialDeletion",
	0x2013: "StoreNotAvailable",
	0x2014: "SpecificationByFormatUnsupported",
	0x2015: "NoValidObjectInfo",
	0x201A: "InvalidParentObject",
	0x201C: "InvalidDevicePropValue",
	0x201D: "InvalidParameter",
	0x201E: "SessionAlreadyOpened",
	0x201F: "TransactionCanceled",
	0xA801: "MTP_Invalid_ObjectPropCode",
	0xA802: "MTP_Invalid_ObjectProp_Format",
	0xA803: "MTP_Invalid_ObjectProp_Value",
	0xA807: "MTP_Specification_By_Group_Unsupported",
	0xA808: "MTP_Specification_By_Depth_Unsupported",
	0xA809: "MTP_Object_Too_Large",
	0xA80A: "MTP_ObjectProp_Not_Supported",
}

// Object format codes.
const OFC_Undefined = 0x3000
const OFC_Association = 0x3001

// Object property codes.
const OPC_StorageID = 0xDC01
const OPC_ObjectFormat = 0xDC02
const OPC_ProtectionStatus = 0xDC03
const OPC_ObjectSize = 0xDC04
const OPC_ObjectFileName = 0xDC07
const OPC_ParentObject = 0xDC0B
const OPC_PersistentUniqueObjectIdentifier = 0xDC41

var OPC_names = map[int]string{
	0xDC01: "StorageID",
	0xDC02: "ObjectFormat",
	0xDC03: "ProtectionStatus",
	0xDC04: "ObjectSize",
	0xDC07: "ObjectFileName",
	0xDC0B: "ParentObject",
	0xDC41: "PersistentUniqueObjectIdentifier",
}

// Device property codes.
const DPC_SynchronizationPartner = 0xD401
const DPC_DeviceFriendlyName = 0xD402

// Data type codes.
const DTC_UNDEF = 0x0000
const DTC_UINT8 = 0x0002
const DTC_UINT16 = 0x0004
const DTC_UINT32 = 0x0006
const DTC_UINT64 = 0x0008
const DTC_UINT128 = 0x000A
const DTC_STR = 0xFFFF

// Device property get/set flags.
const DPGS_Get = 0x00
const DPGS_GetSet = 0x01

// Device property form flags.
const DPFF_None = 0x00
const DPFF_Range = 0x01
const DPFF_Enumeration = 0x02

// Storage types.
const ST_Undefined = 0x0000
const ST_FixedROM = 0x0001
const ST_RemovableROM = 0x0002
const ST_FixedRAM = 0x0003
const ST_RemovableRAM = 0x0004

// Filesystem types.
const FST_Undefined = 0x0000
const FST_GenericFlat = 0x0001
const FST_GenericHierarchical = 0x0002

// Access capabilities.
const AC_ReadWrite = 0x0000
const AC_ReadOnly = 0x0001
const AC_ReadOnly_with_Object_Deletion = 0x0002

// Association types.
const AT_Undefined = 0x0000
const AT_GenericFolder = 0x0001

// Special object handles.
const HANDLE_ROOT = 0xFFFFFFFF

// Functional modes.
const FM_Standard = 0x0000

// Property group codes.
const GroupCode_Default = 0x0000

func getName(m map[int]string, code int) string {
	if n, ok := m[code]; ok {
		return n
	}
	return "unknown"
}

// OCName returns the human-readable name of an operation code.
func OCName(code uint16) string { return getName(OC_names, int(code)) }

// RCName returns the human-readable name of a response code.
func RCName(code uint16) string { return getName(RC_names, int(code)) }
