// Package mono provides a monotonic clock reading for latency bookkeeping
// (log throttling, phase-duration stats) where only elapsed time matters,
// never wall-clock value.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// start anchors NanoTime; time.Since measures from its monotonic reading.
var start = time.Now()

// NanoTime returns a monotonically increasing nanosecond counter. Only
// differences between two calls are meaningful.
func NanoTime() int64 { return int64(time.Since(start)) }
