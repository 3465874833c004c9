package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetMissingKey(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get("/euler/meta")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("/euler/meta", []byte(`{"num_shards":2}`)))
	v, err := s.Get("/euler/meta")
	require.NoError(t, err)
	require.Equal(t, `{"num_shards":2}`, string(v))
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("/k", []byte("abc")))
	v, err := s.Get("/k")
	require.NoError(t, err)
	v[0] = 'x'
	again, err := s.Get("/k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(again))
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("/shard/0/h:1", []byte("{}")))
	require.NoError(t, s.Delete("/shard/0/h:1"))
	require.NoError(t, s.Delete("/shard/0/h:1"))
	require.Equal(t, 0, s.Len())
}

func TestListIsSorted(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("/shard/1/b", nil))
	require.NoError(t, s.Put("/meta", nil))
	require.NoError(t, s.Put("/shard/0/a", nil))
	require.Equal(t, []string{"/meta", "/shard/0/a", "/shard/1/b"}, s.List())
}

func TestConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := fmt.Sprintf("/shard/%d/host", i)
			for j := 0; j < 100; j++ {
				_ = s.Put(path, []byte{byte(j)})
				_, _ = s.Get(path)
				_ = s.List()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 16, s.Len())
}
