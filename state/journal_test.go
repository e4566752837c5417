// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJournalRevertOrder(t *testing.T) {
	require := require.New(t)

	j := NewJournal()
	var order []int
	j.Append(func() { order = append(order, 1) })
	snap := j.Snapshot()
	j.Append(func() { order = append(order, 2) })
	j.Append(func() { order = append(order, 3) })
	require.Equal(3, j.Length())

	j.RevertToSnapshot(snap)
	require.Equal([]int{3, 2}, order)
	require.Equal(1, j.Length())

	j.Finalise()
	require.Zero(j.Length())
	j.RevertToSnapshot(0)
	require.Equal([]int{3, 2}, order)
}

func TestJournalNestedSnapshots(t *testing.T) {
	require := require.New(t)

	j := NewJournal()
	value := 0
	set := func(v int) {
		prev := value
		value = v
		j.Append(func() { value = prev })
	}

	outer := j.Snapshot()
	set(1)
	inner := j.Snapshot()
	set(2)
	j.RevertToSnapshot(inner)
	require.Equal(1, value)

	set(5)
	j.RevertToSnapshot(outer)
	require.Zero(value)
}

func TestJournalNil(t *testing.T) {
	var j *Journal
	j.Append(func() { t.Fatal("undo on nil journal") })
	require.Zero(t, j.Snapshot())
	j.RevertToSnapshot(0)
	j.Finalise()
}

func TestClock(t *testing.T) {
	require := require.New(t)

	c := NewClock(10, 1000)
	c.Advance(2, 30)
	require.Equal(uint64(12), c.BlockNumber())
	require.Equal(uint64(1030), c.Timestamp())

	c.Set(1, 1)
	require.Equal(uint64(1), c.BlockNumber())
	require.Equal(uint64(1), c.Timestamp())
}
