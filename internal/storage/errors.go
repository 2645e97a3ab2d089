package storage

import "errors"

// Sentinel errors for store facts. Services wrap these into domain errors;
// serialization faults are distinct from store faults so callers can tell a
// corrupt record from an unavailable backend.
var (
	ErrNotFound        = errors.New("record not found")
	ErrPutFailed       = errors.New("put failed")
	ErrGetFailed       = errors.New("get failed")
	ErrDeleteFailed    = errors.New("delete failed")
	ErrSerialization   = errors.New("serialization failed")
	ErrDeserialization = errors.New("deserialization failed")
)
