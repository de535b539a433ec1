package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode is the numeric status every driver operation resolves to.
// Zero is success, negative values are CAN/protocol failures and positive values are warnings.
type ErrorCode int32

const (
	OKAY ErrorCode = 0

	// CAN related
	TxFailed          ErrorCode = -1
	InvalidParamValue ErrorCode = -2
	RxTimeout         ErrorCode = -3
	TxTimeout         ErrorCode = -4
	UnexpectedArbId   ErrorCode = -5
	BufferFull        ErrorCode = -6
	SensorNotPresent  ErrorCode = -7

	GeneralError ErrorCode = -100

	SigNotUpdated          ErrorCode = -200
	NotAllPIDValuesUpdated ErrorCode = -201

	IncompatibleMode ErrorCode = -600
	InvalidHandle    ErrorCode = -601

	GeneralWarning      ErrorCode = 100
	FeatureNotSupported ErrorCode = 101
	NotImplemented      ErrorCode = 102
	FirmwareTooOld      ErrorCode = 103
)

var descriptions = map[ErrorCode]string{
	OKAY:                   "no error",
	TxFailed:               "could not transmit the CAN frame",
	InvalidParamValue:      "invalid parameter value",
	RxTimeout:              "CAN frame has not been received within specified period of time",
	TxTimeout:              "transmit timed out",
	UnexpectedArbId:        "specified CAN id is invalid",
	BufferFull:             "buffer is full",
	SensorNotPresent:       "sensor is not present",
	GeneralError:           "general error",
	SigNotUpdated:          "have not received a value response for signal",
	NotAllPIDValuesUpdated: "not all PID values updated",
	IncompatibleMode:       "incompatible mode",
	InvalidHandle:          "handle does not match stored map of handles",
	GeneralWarning:         "general warning",
	FeatureNotSupported:    "feature not supported",
	NotImplemented:         "not implemented",
	FirmwareTooOld:         "firmware version does not satisfy the required constraint",
}

func (e ErrorCode) Error() string {
	desc, ok := descriptions[e]
	if !ok {
		desc = "unknown error"
	}
	return fmt.Sprintf("%s (%d)", desc, int32(e))
}

// Code resolves any error to its ErrorCode. nil is OKAY and errors that do not wrap an
// ErrorCode are GeneralError.
func Code(err error) ErrorCode {
	if err == nil {
		return OKAY
	}
	var code ErrorCode
	if stderrors.As(err, &code) {
		return code
	}
	return GeneralError
}

// IsNoComm reports whether err means the device did not communicate in time.
func IsNoComm(err error) bool {
	return Code(err) == RxTimeout
}

// IsTimeout reports whether err is a parameter response that never arrived.
func IsTimeout(err error) bool {
	return Code(err) == SigNotUpdated
}

type UnsupportedBusError struct {
	Kind string
}

func (err UnsupportedBusError) Error() string {
	if len(err.Kind) == 0 {
		err.Kind = "UNKOWN"
	}

	return fmt.Sprintf("bus kind %s is not supported on this platform", err.Kind)
}

type UnknownPigeonError struct {
	Name string
}

func (err UnknownPigeonError) Error() string {
	return fmt.Sprintf("no such pigeon %s", err.Name)
}
