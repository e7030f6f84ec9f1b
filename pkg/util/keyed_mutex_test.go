package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexExclusive(t *testing.T) {
	km := NewKeyedMutex()

	var inside, maxSeen int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				release := km.Lock("sos:1")
				n := atomic.AddInt64(&inside, 1)
				if n > atomic.LoadInt64(&maxSeen) {
					atomic.StoreInt64(&maxSeen, n)
				}
				time.Sleep(10 * time.Microsecond)
				atomic.AddInt64(&inside, -1)
				release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), maxSeen)
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	release := km.Lock("att:1")
	defer release()

	done := make(chan struct{})
	go func() {
		r := km.Lock("att:2")
		r()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyedMutexReleaseIsIdempotent(t *testing.T) {
	km := NewKeyedMutex()
	release := km.LockAll("b", "a", "a")
	release()
	release()
	assert.Equal(t, 0, km.Len())

	r := km.Lock("a")
	r()
}
