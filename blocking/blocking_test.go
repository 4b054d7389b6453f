package blocking

import (
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dijkstracula/go-rwlock/rwlock"
)

type op int

const (
	opRead  op = 1
	opWrite op = 2
)

// TestDrainReads mirrors the teacher's own readers-vs-writers race: hold
// the lock exclusively, queue up writers and then readers behind it,
// then release and confirm fair-queue (FIFO) ordering -- the first op
// observed must be a write, since every writer was enqueued ahead of
// every reader before the single Unlock below.
func TestDrainReads(t *testing.T) {
	l := log.New(os.Stderr, "", 0)

	readers := 5
	writers := 5

	m, err := New(rwlock.Config{})
	require.NoError(t, err)

	m.Lock()

	var wg sync.WaitGroup
	ch := make(chan op, readers+writers)

	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			wg.Done()
			m.Lock()
			l.Printf("writer %d admitted", i)
			ch <- opWrite
			m.Unlock()
		}(i)
	}
	wg.Wait()
	time.Sleep(10 * time.Millisecond) // let every writer enqueue first

	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func(i int) {
			wg.Done()
			m.RLock()
			l.Printf("reader %d admitted", i)
			ch <- opRead
			m.RUnlock()
		}(i)
	}

	wg.Wait()
	time.Sleep(10 * time.Millisecond)
	m.Unlock()

	first := <-ch
	assert.Equal(t, opWrite, first, "a writer enqueued before release should be admitted before any reader")

	for i := 1; i < readers+writers; i++ {
		<-ch
	}
}

func TestRLockAllowsConcurrentReaders(t *testing.T) {
	m, err := New(rwlock.Config{})
	require.NoError(t, err)

	m.RLock()
	defer m.RUnlock()

	done := make(chan struct{})
	go func() {
		m.RLock()
		m.RUnlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second RLock should not block behind an already-held RLock")
	}
}

func TestUpgradeDowngradeRoundTrip(t *testing.T) {
	m, err := New(rwlock.Config{})
	require.NoError(t, err)

	m.RLockUpgrade()
	m.Upgrade()
	m.Downgrade()
	m.RUnlockUpgrade()
}
