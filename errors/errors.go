// Package errors wraps github.com/cockroachdb/errors and declares the
// failure taxonomy shared by the batch engine, the collector and the API.
//
// Wrap errors with context where they cross a package boundary and test for
// a failure class with Is:
//
//	if errors.Is(err, errors.ErrValidation) {
//	    // reject the input file
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithHint     = crdb.WithHint
	WithHintf    = crdb.WithHintf
	WithDetailf  = crdb.WithDetailf
	Mark         = crdb.Mark
	Is           = crdb.Is
	IsAny        = crdb.IsAny
	As           = crdb.As
	Unwrap       = crdb.Unwrap
	UnwrapAll    = crdb.UnwrapAll
	GetAllHints  = crdb.GetAllHints
	FlattenHints = crdb.FlattenHints
)

// Failure classes. Use Mark to attach one to a concrete error.
var (
	ErrSchema            = New("schema error")
	ErrArtifactNotFound  = New("artifact not found")
	ErrArtifactCorrupt   = New("artifact corrupt")
	ErrValidation        = New("validation error")
	ErrTransform         = New("transform error")
	ErrUnsupportedFormat = New("unsupported format")
	ErrWorkerFailure     = New("unexpected worker failure")
)
