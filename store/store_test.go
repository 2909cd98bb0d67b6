package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutThenGetReturnsLastWrite(t *testing.T) {
	s := New()

	s.Put("k", []byte("v1"))
	s.Put("k", []byte("v2"))

	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
}

func TestGetMissingKey(t *testing.T) {
	s := New()

	v, ok := s.Get("nope")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestDelete(t *testing.T) {
	s := New()
	s.Put("k", []byte("v"))

	assert.True(t, s.Delete("k"))
	assert.False(t, s.Delete("k"), "second delete is a no-op")

	_, ok := s.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestValuesAreCopied(t *testing.T) {
	s := New()

	in := []byte("abc")
	s.Put("k", in)
	in[0] = 'X'

	out, _ := s.Get("k")
	assert.Equal(t, []byte("abc"), out)

	out[1] = 'Y'
	again, _ := s.Get("k")
	assert.Equal(t, []byte("abc"), again)
}

func TestSnapshotOrderAndIsolation(t *testing.T) {
	s := New()
	s.Put("k1", []byte("v1"))
	s.Put("k2", []byte("v2"))
	s.Put("k3", []byte("v3"))
	s.Put("k1", []byte("v1b"))
	s.Delete("k2")

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, Entry{Key: "k1", Value: []byte("v1b")}, snap[0])
	assert.Equal(t, Entry{Key: "k3", Value: []byte("v3")}, snap[1])

	s.Put("k4", []byte("v4"))
	s.Delete("k1")
	assert.Len(t, snap, 2, "snapshot must not follow later writes")
	assert.Equal(t, "k1", snap[0].Key)

	s.Put("k2", []byte("again"))
	keys := []string{}
	for _, e := range s.Snapshot() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"k3", "k4", "k2"}, keys)
}

func TestConcurrentAccess(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", j%10)
				s.Put(key, []byte(fmt.Sprint(n)))
				s.Get(key)
				s.Snapshot()
				if j%7 == 0 {
					s.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, s.Len(), 10)
	assert.Len(t, s.Snapshot(), s.Len())
}
