// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package execerror classifies the error kinds produced by the
// vectorized join engine: upstream stream errors are propagated
// verbatim, while schema mismatches, broken internal invariants, and
// arithmetic failures are wrapped so callers can tell them apart.
package execerror

import (
	"github.com/cockroachdb/errors"
)

// internalError marks a violated invariant: a code path that should be
// unreachable given the contracts the caller promised to uphold (e.g.
// adjusting indices for an unsupported join flavor, or finding a null
// where a non-null array was required).
type internalError struct {
	error
}

// InternalPanic raises an internal invariant violation. Unlike the
// other helpers in this package it panics rather than returning an
// error, matching the columnar executor convention of converting
// panics back into errors at the operator tree's root via a recover.
func InternalPanic(msg string, args ...interface{}) {
	panic(internalError{errors.AssertionFailedWithDepthf(1, msg, args...)})
}

// NewInternalError builds an internal invariant error without
// panicking, for callers that are already inside error-returning
// control flow (the index adjuster, the interval graph).
func NewInternalError(msg string, args ...interface{}) error {
	return internalError{errors.AssertionFailedWithDepthf(1, msg, args...)}
}

// IsInternalError reports whether err was produced by this package.
func IsInternalError(err error) bool {
	var ie internalError
	return errors.As(err, &ie)
}

// NewSchemaError wraps a type or column-resolution failure encountered
// while evaluating a filter expression against the intermediate
// schema. These are always fatal to the join.
func NewSchemaError(cause error, msg string, args ...interface{}) error {
	if cause == nil {
		return errors.Newf(msg, args...)
	}
	return errors.Wrapf(cause, msg, args...)
}

// CatchVectorizedRuntimeError recovers a panic raised via InternalPanic
// (or any other panic) and reports it through the supplied error
// pointer, mirroring the vectorized engine's convention of using
// panic/recover for control flow within a single Next() call so that
// deeply nested operators don't need to thread error returns through
// every frame.
func CatchVectorizedRuntimeError(errPtr *error) {
	if r := recover(); r != nil {
		if err, ok := r.(error); ok {
			*errPtr = err
			return
		}
		*errPtr = errors.Newf("unexpected panic: %v", r)
	}
}
