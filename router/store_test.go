// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"math/big"
	"testing"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

func newSwapStore(t *testing.T, db database.Database, namespace string) *Store[*SwapRequest] {
	t.Helper()
	s, err := NewStore(db, namespace, func() *SwapRequest { return new(SwapRequest) })
	require.NoError(t, err)
	return s
}

func testSwapRequest(account common.Address) *SwapRequest {
	return &SwapRequest{
		Header: Header{
			Account:      account,
			ExecutionFee: big.NewInt(4000),
			BlockNumber:  12,
			BlockTime:    1_700_000_000,
			IsNativeOut:  true,
		},
		Path:            []common.Address{testUsdc, testWeth},
		AmountIn:        big.NewInt(1_000_000),
		MinOut:          big.NewInt(3),
		AcceptablePrice: big.NewInt(0),
		Receiver:        testBob,
	}
}

func TestStoreAppendAssignsIndexes(t *testing.T) {
	require := require.New(t)
	s := newSwapStore(t, memdb.New(), SwapKind)

	next, err := s.NextIndex(testAlice)
	require.NoError(err)
	require.Equal(uint64(1), next)

	first, err := s.Append(testSwapRequest(testAlice))
	require.NoError(err)
	bobs, err := s.Append(testSwapRequest(testBob))
	require.NoError(err)
	second, err := s.Append(testSwapRequest(testAlice))
	require.NoError(err)

	require.Equal(RequestKey(testAlice, 1), first)
	require.Equal(RequestKey(testBob, 1), bobs)
	require.Equal(RequestKey(testAlice, 2), second)
	require.Equal(uint64(3), s.Len())

	for i, want := range []Key{first, bobs, second} {
		key, err := s.KeyAt(uint64(i))
		require.NoError(err)
		require.Equal(want, key)
	}
	_, err = s.KeyAt(3)
	require.ErrorIs(err, ErrIndexOutOfRange)

	req, ok, err := s.Get(second)
	require.NoError(err)
	require.True(ok)
	require.Equal(uint64(2), req.Index)
	require.Equal(testAlice, req.Account)
	require.Equal([]common.Address{testUsdc, testWeth}, req.Path)
	require.Zero(req.AmountIn.Cmp(big.NewInt(1_000_000)))
	require.True(req.IsNativeOut)
	require.False(req.IsNativeIn)
}

func TestStoreClearKeepsKeyList(t *testing.T) {
	require := require.New(t)
	s := newSwapStore(t, memdb.New(), SwapKind)

	key, err := s.Append(testSwapRequest(testAlice))
	require.NoError(err)
	require.NoError(s.Clear(key))

	_, ok, err := s.Get(key)
	require.NoError(err)
	require.False(ok)
	require.Equal(uint64(1), s.Len())

	listed, err := s.KeyAt(0)
	require.NoError(err)
	require.Equal(key, listed)

	// cleared indexes are never handed out again
	next, err := s.Append(testSwapRequest(testAlice))
	require.NoError(err)
	require.Equal(RequestKey(testAlice, 2), next)
}

func TestStorePersists(t *testing.T) {
	require := require.New(t)
	db := memdb.New()
	s := newSwapStore(t, db, SwapKind)

	key, err := s.Append(testSwapRequest(testAlice))
	require.NoError(err)
	_, err = s.Append(testSwapRequest(testBob))
	require.NoError(err)
	require.NoError(s.SetStart(1))

	reopened := newSwapStore(t, db, SwapKind)
	require.Equal(uint64(2), reopened.Len())
	require.Equal(uint64(1), reopened.Start())
	next, err := reopened.NextIndex(testAlice)
	require.NoError(err)
	require.Equal(uint64(2), next)

	req, ok, err := reopened.Get(key)
	require.NoError(err)
	require.True(ok)
	require.Equal(testBob, req.Receiver)

	// namespaces do not share state
	other := newSwapStore(t, db, AddLiquidityKind)
	require.Zero(other.Len())
	_, ok, err = other.Get(key)
	require.NoError(err)
	require.False(ok)
}
