// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrXRefCycle is wrapped by XRefError when a Prev chain revisits an offset.
	ErrXRefCycle = errors.New("cross-reference chain cycle")
	// ErrReferenceCycle is wrapped when an object is fetched while it is being defined.
	ErrReferenceCycle = errors.New("reference cycle")
	// ErrAuthFailed is reported when no password is accepted.
	ErrAuthFailed = errors.New("authorization failed")
	// ErrAuthCancelled is reported when the password provider stops supplying candidates.
	ErrAuthCancelled = errors.New("authorization cancelled")
)

// StructuralError reports a missing or invalid file-level marker:
// header, startxref, %%EOF or trailer dictionary.
type StructuralError struct {
	Msg string
}

func (e *StructuralError) Error() string { return "malformed PDF: " + e.Msg }

// LexicalError reports input that cannot be tokenized.
type LexicalError struct {
	Offset int64
	Msg    string
}

func (e *LexicalError) Error() string {
	return fmt.Sprintf("lexical error at offset %d: %s", e.Offset, e.Msg)
}

// ParseError reports a token grammar violation at Offset.
type ParseError struct {
	Offset int64
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at offset %d: %s: %v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// XRefError reports a malformed cross-reference section.
type XRefError struct {
	Offset int64
	Msg    string
	Err    error
}

func (e *XRefError) Error() string {
	s := fmt.Sprintf("xref at offset %d: %s", e.Offset, e.Msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *XRefError) Unwrap() error { return e.Err }

// ObjectError reports an indirect object that could not be read at its
// recorded offset.
type ObjectError struct {
	Ref    ObjectRef
	Offset int64
	Err    error
}

func (e *ObjectError) Error() string {
	s := fmt.Sprintf("can't read object %v at position %d", e.Ref, e.Offset)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ObjectError) Unwrap() error { return e.Err }

// ObjectStreamError reports an invalid object stream container.
type ObjectStreamError struct {
	Container ObjectRef
	Msg       string
	Err       error
}

func (e *ObjectStreamError) Error() string {
	s := fmt.Sprintf("object stream %d is invalid: %s", e.Container.Num, e.Msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ObjectStreamError) Unwrap() error { return e.Err }

// EncryptionDescriptorError reports an unsupported or malformed Encrypt dictionary.
type EncryptionDescriptorError struct {
	Msg string
}

func (e *EncryptionDescriptorError) Error() string { return "invalid encryption dictionary: " + e.Msg }

// AuthenticationError is returned when the security handler refuses access.
type AuthenticationError struct {
	Outcome AuthOutcome
}

func (e *AuthenticationError) Error() string {
	return "authorization failed: bad password provided (" + e.Outcome.String() + ")"
}

func (e *AuthenticationError) Unwrap() error {
	if e.Outcome == Cancelled {
		return ErrAuthCancelled
	}
	return ErrAuthFailed
}
