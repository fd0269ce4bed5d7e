package points

import (
	"sync"
	"testing"
)

func TestKeyedLock_SerializesSameKey(t *testing.T) {
	l := newKeyedLock()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("batch-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestKeyedLock_IndependentKeys(t *testing.T) {
	l := newKeyedLock()
	unlockA := l.lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := l.lock("b")
		unlockB()
		close(done)
	}()
	<-done // must not deadlock while "a" is held
	unlockA()
}
