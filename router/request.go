// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Key identifies a request. It is derived from the owner and the owner's
// request index.
type Key = common.Hash

// Header is the part every request shares.
type Header struct {
	Account      common.Address
	Index        uint64
	ExecutionFee *big.Int
	BlockNumber  uint64
	BlockTime    uint64
	IsNativeIn   bool
	IsNativeOut  bool
}

// RequestHeader returns h. Request types embed Header to satisfy Request.
func (h *Header) RequestHeader() *Header {
	return h
}

// Request is a queued intent of one action kind.
type Request interface {
	RequestHeader() *Header
}

// RequestKey derives the key of the index'th request of account.
func RequestKey(account common.Address, index uint64) Key {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)

	h := blake3.New()
	h.Write(account.Bytes())
	h.Write(buf[:])
	var key Key
	h.Digest().Read(key[:])
	return key
}
