// Package cos provides common low-level types and utilities for all aistore projects
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"crypto/rand"
	"math/big"
	"unsafe"
)

// MLCG32 is the multiplicative-LCG seed passed to xxhash for
// cos.UnsafeB-keyed digests (HashK8sProxyID's node-ID hashing), kept as one
// shared constant so two callers hashing the same bytes always agree.
const MLCG32 = 1103515245

// letterBytes/letterIdxBits/letterIdxMask/LenRunes back GenBEID's
// fast per-rune extraction: letterIdxBits is the number of low bits of a
// uint64 needed to index LetterRunes, and letterIdxMask extracts them.
const (
	letterBytes   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	letterIdxBits = 6
	letterIdxMask = 1<<letterIdxBits - 1
)

var (
	LetterRunes = []byte(letterBytes)
	LenRunes    = len(LetterRunes)
)

// UnsafeB casts a string to a []byte without copying. Safe to call and
// discard immediately, or to read from; never write to the result, and
// never hold it past the lifetime of s.
func UnsafeB(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// UnsafeS casts a []byte to a string without copying. Never mutate b after
// calling this.
func UnsafeS(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// CryptoRandS returns an n-character random alphanumeric string drawn from
// crypto/rand, used wherever an ID needs to resist prediction (daemon IDs)
// rather than just avoid collision.
func CryptoRandS(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(LenRunes)))
		if err != nil {
			// crypto/rand failing means the OS entropy source is gone;
			// nothing in this process can recover a usable ID at that point.
			panic(err)
		}
		b[i] = LetterRunes[idx.Int64()]
	}
	return UnsafeS(b)
}
