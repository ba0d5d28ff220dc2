// Package cos provides common low-level types and utilities for all aistore projects
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import "github.com/pkg/errors"

// WrapErr annotates err with a message while keeping it as the chain's
// cause, so Cause(err) still recovers whatever the catalog store or a
// migration step originally returned, after a higher layer has added
// context on its way up (§4.2/§4.3 commit and recovery paths).
func WrapErr(err error, format string, a ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, a...)
}

// Cause unwraps err down to whatever originally produced it, skipping every
// WrapErr annotation layered on top.
func Cause(err error) error { return errors.Cause(err) }
