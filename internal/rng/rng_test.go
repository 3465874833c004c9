package rng

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSameCallerIDIsReproducible(t *testing.T) {
	SetProcessSeed(7)
	a := New(12)
	b := New(12)
	for i := 0; i < 16; i++ {
		require.Equal(t, a.Int63(), b.Int63())
	}
}

func TestDifferentCallerIDsDiverge(t *testing.T) {
	SetProcessSeed(7)
	a := New(1)
	b := New(2)
	same := true
	for i := 0; i < 8; i++ {
		if a.Int63() != b.Int63() {
			same = false
		}
	}
	require.False(t, same, "adjacent caller ids must not yield the same stream")
}

func TestBorrowReleaseCycle(t *testing.T) {
	r := Borrow()
	require.NotNil(t, r)
	_ = r.Int63()
	Release(r)

	again := Borrow()
	require.NotNil(t, again)
	Release(again)
}
