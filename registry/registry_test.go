package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"avrorpc/rpcerr"
)

func TestAddAndGetFiresOnce(t *testing.T) {
	r := New()
	var fired int
	var gotPayload []byte
	id, err := r.Add(0, func(payload []byte, err error) {
		fired++
		gotPayload = payload
		require.NoError(t, err)
	})
	require.NoError(t, err)

	r.Get(id, []byte("ok"))
	r.Get(id, []byte("ok again")) // second fire must be a no-op

	require.Equal(t, 1, fired)
	require.Equal(t, []byte("ok"), gotPayload)
	require.Equal(t, 0, r.Len())
}

func TestTimeoutFiresAtMostOnce(t *testing.T) {
	r := New()
	done := make(chan error, 1)
	id, err := r.Add(5*time.Millisecond, func(payload []byte, err error) {
		done <- err
	})
	require.NoError(t, err)

	err = <-done
	require.Equal(t, rpcerr.Timeout, rpcerr.CodeOf(err))

	// A late response after the timeout already fired must be ignored.
	r.Get(id, []byte("too late"))
	select {
	case <-done:
		t.Fatal("callback fired twice")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestResponseBeforeTimeoutCancelsTimer(t *testing.T) {
	r := New()
	done := make(chan error, 1)
	id, err := r.Add(20*time.Millisecond, func(payload []byte, err error) {
		done <- err
	})
	require.NoError(t, err)

	r.Get(id, []byte("fast"))
	require.NoError(t, <-done)

	select {
	case err := <-done:
		t.Fatalf("timeout fired after response: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestClearFailsAllPending(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		i := i
		wg.Add(1)
		_, err := r.Add(time.Second, func(payload []byte, err error) {
			errs[i] = err
			wg.Done()
		})
		require.NoError(t, err)
	}

	r.Clear()
	wg.Wait()

	for _, err := range errs {
		require.Equal(t, rpcerr.Interrupted, rpcerr.CodeOf(err))
	}
}

func TestAddAfterClearIsRejected(t *testing.T) {
	r := New()
	r.Clear()
	_, err := r.Add(0, func(payload []byte, err error) {})
	require.Equal(t, rpcerr.Interrupted, rpcerr.CodeOf(err))
}

func TestCancelRemovesWithoutFiring(t *testing.T) {
	r := New()
	fired := false
	id, err := r.Add(0, func(payload []byte, err error) { fired = true })
	require.NoError(t, err)

	r.Cancel(id)
	r.Get(id, []byte("x"))
	require.False(t, fired)
	require.Equal(t, 0, r.Len())
}

func TestConcurrentAddUniqueIDs(t *testing.T) {
	r := New()
	const n = 200
	var wg sync.WaitGroup
	ids := make(chan uint16, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Add(time.Minute, func(payload []byte, err error) {})
			require.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint16]bool, n)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	require.Equal(t, n, r.Len())
}
