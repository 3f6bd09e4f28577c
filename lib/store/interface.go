package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/htab/lib/hmap"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// MapFactory is a function type that creates the map used by the store.
// This is used to abstract the creation of the map from the store implementation.
type MapFactory func() (hmap.Map, error)

// IStore is the generic interface for interacting with a key–value store
// backed by a fixed-size map. Keys are strings of at most the map's key size,
// values are byte slices of at most the map's value size; shorter keys and
// values are zero-padded. All methods return a *Error (nil on success).
type IStore interface {
	// Set inserts or updates a key–value pair.
	Set(key string, value []byte) (err error)
	// SetIfUnset inserts a key–value pair if the key does not exist.
	// No error is returned if the key already exists, the old value is kept.
	SetIfUnset(key string, value []byte) (err error)
	// Replace updates the value of an existing key. It fails with RetCNotFound if the key is absent.
	Replace(key string, value []byte) (err error)
	// Delete deletes a key–value pair. Deleting an absent key is not an error.
	Delete(key string) (err error)
	// Get returns the value for a key. The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, loaded bool, err error)
	// Has returns whether a key exists in the store.
	Has(key string) (loaded bool, err error)
	// Keys calls fn for every key until fn returns false.
	// Keys inserted or deleted concurrently may be skipped.
	Keys(fn func(key string) bool) (err error)
	// Drain removes all entries and returns them.
	Drain() (entries map[string][]byte, err error)
	// GetMapInfo returns metadata about the map underlying the store.
	GetMapInfo() (info hmap.MapInfo, err error)
	// Close closes the underlying map.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new StoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// FromMapError converts an error returned by a hmap.Map into a *Error.
// It returns nil for a nil error.
func FromMapError(err error) error {
	if err == nil {
		return nil
	}

	var mapErr *hmap.Error
	if !errors.As(err, &mapErr) {
		return NewError(RetCInternalError, err.Error())
	}

	code := RetCInternalError
	switch mapErr.Kind {
	case hmap.KindAlreadyExists:
		code = RetCAlreadyExists
	case hmap.KindNotFound:
		code = RetCNotFound
	case hmap.KindOutOfCapacity:
		code = RetCOutOfCapacity
	case hmap.KindBusy:
		code = RetCBusy
	case hmap.KindInvalidArgument, hmap.KindNoSpace:
		code = RetCInvalidOperation
	case hmap.KindClosed:
		code = RetCClosed
	}
	return NewError(code, mapErr.Error())
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying map.
	RetCInvalidOperation                    // 3: Invalid operation (e.g. key or value too long).
	RetCNotFound                            // 4: The key does not exist.
	RetCAlreadyExists                       // 5: The key already exists.
	RetCOutOfCapacity                       // 6: The map is full.
	RetCBusy                                // 7: The map stayed busy after all retries.
	RetCClosed                              // 8: The store has been closed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCAlreadyExists:
		return "AlreadyExists"
	case RetCOutOfCapacity:
		return "OutOfCapacity"
	case RetCBusy:
		return "Busy"
	case RetCClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
