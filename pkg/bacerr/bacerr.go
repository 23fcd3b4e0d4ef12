// Package bacerr carries the BACnet APDU error taxonomy — Reject, Error,
// and Abort — plus a fault-injection harness (Injector) that the BIP
// transport can take to force a chosen send or receive to fail or a
// chosen datagram to be dropped or corrupted in place of a live network
// fault.
package bacerr

import "fmt"

// RejectReason enumerates BACnetRejectReason (Clause 21, object
// ASHRAE-135 Table). A Reject means the request itself was malformed;
// the service never ran.
type RejectReason uint8

const (
	RejectOther RejectReason = iota
	RejectBufferOverflow
	RejectInconsistentParameters
	RejectInvalidParameterDataType
	RejectInvalidTag
	RejectMissingRequiredParameter
	RejectParameterOutOfRange
	RejectTooManyArguments
	RejectUndefinedEnumeration
	RejectUnrecognizedService
)

// AbortReason enumerates BACnetAbortReason. An Abort means the
// transaction itself failed irrecoverably; either side may send one.
type AbortReason uint8

const (
	AbortOtherError AbortReason = iota
	AbortBufferOverflow
	AbortInvalidAPDUInThisState
	AbortPreemptedByHigherPriorityTask
	AbortSegmentationNotSupported
	AbortSecurityError
	AbortInsufficientSecurity
	AbortWindowSizeOutOfRange
	AbortApplicationExceededReplyTime
	AbortOutOfResources
	AbortTsmTimeout
	AbortApduTooLong
	AbortCommunicationDisabled
)

// ErrorClass/ErrorCode enumerate the (class, code) pair carried by a
// BACnet Error-PDU (Clause 21). Only the classes this stack's own error
// paths emit are named; a service layer built on top of the core is free
// to emit any (class, code) pair over the same wire shape.
type ErrorClass uint32

const (
	ErrorClassDevice ErrorClass = iota
	ErrorClassObject
	ErrorClassProperty
	ErrorClassResources
	ErrorClassSecurity
	ErrorClassServices
	ErrorClassVT
	ErrorClassCommunication
)

type ErrorCode uint32

const (
	ErrorCodeOther ErrorCode = iota
	ErrorCodeUnknownObject
	ErrorCodeUnknownProperty
	ErrorCodeCommunicationDisabled
)

// ErrorCodeDuplicateVMAC is the fixed wire value BACnet/SC uses (Clause
// 21, Communication error class) when a Connect-Request's VMAC collides
// with one already in use on the hub or peer.
const ErrorCodeDuplicateVMAC ErrorCode = 0x0071

// RejectError reports that a received APDU was rejected before any
// service ran.
type RejectError struct {
	InvokeID uint8
	Reason   RejectReason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("bacnet reject: invoke-id=%d reason=%d", e.InvokeID, e.Reason)
}

// ServiceError reports that a service executed but could not complete.
type ServiceError struct {
	InvokeID uint8
	Class    ErrorClass
	Code     ErrorCode
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("bacnet error: invoke-id=%d class=%d code=%d", e.InvokeID, e.Class, e.Code)
}

// AbortError reports that a transaction failed irrecoverably.
type AbortError struct {
	InvokeID     uint8
	Reason       AbortReason
	SentByServer bool
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("bacnet abort: invoke-id=%d reason=%d server=%v", e.InvokeID, e.Reason, e.SentByServer)
}

// NewAbort is a convenience constructor used throughout the codec and TSM
// layers when a decode or protocol violation must surface as an abort.
func NewAbort(invokeID uint8, reason AbortReason) *AbortError {
	return &AbortError{InvokeID: invokeID, Reason: reason}
}
