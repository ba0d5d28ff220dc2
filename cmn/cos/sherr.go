// Package cos provides common low-level types and utilities for all aistore projects
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
)

// Error taxonomy for the coordination plane: every fallible operation in
// catalog, migration, and shard-version checking returns an error whose
// Kind() classifies how the caller should react.
type Kind int

const (
	KindStaleView Kind = iota + 1
	KindTransient
	KindPrecondition
	KindPermanentInput
	KindAuthorization
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindStaleView:
		return "stale-view"
	case KindTransient:
		return "transient"
	case KindPrecondition:
		return "precondition"
	case KindPermanentInput:
		return "permanent-input"
	case KindAuthorization:
		return "authorization"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ShErr is the common shape for every sharding-plane error: a wire-facing
// code name, the §7 Kind, and a human-readable message.
type ShErr struct {
	Code string
	K    Kind
	Msg  string
}

func (e *ShErr) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }
func (e *ShErr) Kind() Kind     { return e.K }

func newShErr(code string, k Kind, format string, a ...any) *ShErr {
	return &ShErr{Code: code, K: k, Msg: fmt.Sprintf(format, a...)}
}

// StaleEpoch: caller's epoch disagrees with the collection's current epoch.
type ErrStaleEpoch struct {
	*ShErr
	Expected, Actual string
}

func NewErrStaleEpoch(expected, actual string) *ErrStaleEpoch {
	return &ErrStaleEpoch{
		ShErr:    newShErr("StaleEpoch", KindStaleView, "expected epoch %s, collection is at %s", expected, actual),
		Expected: expected,
		Actual:   actual,
	}
}

// StaleConfig: caller's shard-version routing is out of date.
type ErrStaleConfig struct {
	*ShErr
	Reason string
}

func NewErrStaleConfig(reason string) *ErrStaleConfig {
	return &ErrStaleConfig{ShErr: newShErr("StaleConfig", KindStaleView, "%s", reason), Reason: reason}
}

// IncompatibleShardingMetadata: a precondition on persisted chunk metadata
// did not hold (e.g. history ordering violated, chunk boundaries moved).
type ErrIncompatibleShardingMetadata struct{ *ShErr }

func NewErrIncompatibleShardingMetadata(format string, a ...any) *ErrIncompatibleShardingMetadata {
	return &ErrIncompatibleShardingMetadata{newShErr("IncompatibleShardingMetadata", KindPrecondition, format, a...)}
}

// NotMaster / InterruptedDueToReplStateChange / NetworkTimeout: transient,
// retry with bounded backoff.
type ErrNotMaster struct{ *ShErr }

func NewErrNotMaster(host string) *ErrNotMaster {
	return &ErrNotMaster{newShErr("NotMaster", KindTransient, "%s is not primary", host)}
}

type ErrInterruptedDueToReplStateChange struct{ *ShErr }

func NewErrInterruptedDueToReplStateChange() *ErrInterruptedDueToReplStateChange {
	return &ErrInterruptedDueToReplStateChange{newShErr("InterruptedDueToReplStateChange", KindTransient, "replica set state changed mid-operation")}
}

type ErrNetworkTimeout struct{ *ShErr }

func NewErrNetworkTimeout(host string) *ErrNetworkTimeout {
	return &ErrNetworkTimeout{newShErr("NetworkTimeout", KindTransient, "timed out contacting %s", host)}
}

// DuplicateKey: precondition, caller must re-read before acting.
type ErrDuplicateKey struct{ *ShErr }

func NewErrDuplicateKey(key string) *ErrDuplicateKey {
	return &ErrDuplicateKey{newShErr("DuplicateKey", KindPrecondition, "duplicate key %s", key)}
}

// InvalidOptions / IllegalOperation / BadValue: permanent, return unchanged.
type ErrInvalidOptions struct{ *ShErr }

func NewErrInvalidOptions(format string, a ...any) *ErrInvalidOptions {
	return &ErrInvalidOptions{newShErr("InvalidOptions", KindPermanentInput, format, a...)}
}

type ErrIllegalOperation struct{ *ShErr }

func NewErrIllegalOperation(format string, a ...any) *ErrIllegalOperation {
	return &ErrIllegalOperation{newShErr("IllegalOperation", KindPermanentInput, format, a...)}
}

type ErrNamespaceNotFound struct{ *ShErr }

func NewErrNamespaceNotFound(ns string) *ErrNamespaceNotFound {
	return &ErrNamespaceNotFound{newShErr("NamespaceNotFound", KindPermanentInput, "namespace %s not found", ns)}
}

type ErrNamespaceExists struct{ *ShErr }

func NewErrNamespaceExists(ns string) *ErrNamespaceExists {
	return &ErrNamespaceExists{newShErr("NamespaceExists", KindPermanentInput, "namespace %s already exists", ns)}
}

// Unauthorized: return unchanged.
type ErrUnauthorized struct{ *ShErr }

func NewErrUnauthorized(op string) *ErrUnauthorized {
	return &ErrUnauthorized{newShErr("Unauthorized", KindAuthorization, "not authorized for %s", op)}
}

// LockBusy: the chunk-op lock is held by another commit; caller may retry.
type ErrLockBusy struct{ *ShErr }

func NewErrLockBusy(ns string) *ErrLockBusy {
	return &ErrLockBusy{newShErr("LockBusy", KindTransient, "chunk-op lock for %s is held", ns)}
}

// ExceededTimeLimit: a blocking call's cancellation token tripped.
type ErrExceededTimeLimit struct{ *ShErr }

func NewErrExceededTimeLimit(op string) *ErrExceededTimeLimit {
	return &ErrExceededTimeLimit{newShErr("ExceededTimeLimit", KindTransient, "%s exceeded its time limit", op)}
}

// Uninitialized: component asked to act before it has a valid snapshot.
type ErrUninitialized struct{ *ShErr }

func NewErrUninitialized(what string) *ErrUninitialized {
	return &ErrUninitialized{newShErr("Uninitialized", KindFatal, "%s is not initialized", what)}
}

// Interrupted: a cancellation token tripped mid-operation; state is left
// consistent by the caller's cleanup path.
var ErrInterrupted = errors.New("interrupted")

// Kind extracts the §7 taxonomy kind from any sharding-plane error,
// defaulting to KindFatal for errors this package doesn't recognize as
// retriable classes (conservative default: don't silently retry the
// unknown).
func ErrKind(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindFatal
}

// Retriable reports whether err's kind permits a bounded retry inside the
// layer that produced it (Transient only; StaleView is retried by the
// caller after a refresh, not inside this layer).
func Retriable(err error) bool { return ErrKind(err) == KindTransient }
