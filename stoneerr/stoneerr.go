// Package stoneerr defines the closed set of result codes shared by the
// pf, hf and am layers, and the wrapping used to propagate a lower
// layer's failure as a single tagged code in a higher layer.
package stoneerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is one of the result codes a storage-engine operation can return.
type Code int

const (
	OK Code = iota
	NoMem
	NoBuf
	PageFixed
	PageNotInBuf
	PageUnfixed
	PageInBuf
	HdrRead
	HdrWrite
	IncompleteRead
	IncompleteWrite
	InvalidPage
	FileOpen
	FtabFull
	Fd
	Eof
	PageFree
	HashNotFound
	HashPageExist
	InvalidAttrType
	InvalidAttrLength
	InvalidValue
	NotFound
	InvalidScanDesc
	InvalidOpToScan
	ScanTabFull
	Unix
)

var names = map[Code]string{
	OK:                "OK",
	NoMem:             "NoMem",
	NoBuf:             "NoBuf",
	PageFixed:         "PageFixed",
	PageNotInBuf:      "PageNotInBuf",
	PageUnfixed:       "PageUnfixed",
	PageInBuf:         "PageInBuf",
	HdrRead:           "HdrRead",
	HdrWrite:          "HdrWrite",
	IncompleteRead:    "IncompleteRead",
	IncompleteWrite:   "IncompleteWrite",
	InvalidPage:       "InvalidPage",
	FileOpen:          "FileOpen",
	FtabFull:          "FtabFull",
	Fd:                "Fd",
	Eof:               "Eof",
	PageFree:          "PageFree",
	HashNotFound:      "HashNotFound",
	HashPageExist:     "HashPageExist",
	InvalidAttrType:   "InvalidAttrType",
	InvalidAttrLength: "InvalidAttrLength",
	InvalidValue:      "InvalidValue",
	NotFound:          "NotFound",
	InvalidScanDesc:   "InvalidScanDesc",
	InvalidOpToScan:   "InvalidOpToScan",
	ScanTabFull:       "ScanTabFull",
	Unix:              "Unix",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is a result code paired with the layer that raised it and,
// optionally, the lower-layer error it wraps.
type Error struct {
	layer string
	code  Code
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.layer, e.code, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.layer, e.code)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the result code this layer reported to its caller.
func (e *Error) Code() Code { return e.code }

// New creates a fresh, uncaused error for the given layer and code.
func New(layer string, code Code) error {
	if code == OK {
		return nil
	}
	return &Error{layer: layer, code: code}
}

// Wrap tags a lower-layer error with this layer's own code, preserving
// the original as the cause via github.com/pkg/errors so the chain
// survives errors.Cause/errors.Is.
func Wrap(layer string, code Code, cause error) error {
	if code == OK {
		return nil
	}
	return &Error{layer: layer, code: code, cause: errors.WithStack(cause)}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			if se.code == code {
				return true
			}
			err = se.cause
			continue
		}
		err = errors.Unwrap(err)
	}
	return false
}

// CodeOf extracts the Code from err if it (or something it wraps) is a
// *Error, and OK otherwise.
func CodeOf(err error) Code {
	for err != nil {
		if se, ok := err.(*Error); ok {
			return se.code
		}
		err = errors.Unwrap(err)
	}
	return OK
}
