package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartRejectsDuplicateID(t *testing.T) {
	m := NewManager[uint64](50*time.Millisecond, nil)
	defer m.Close()
	require.True(t, m.Start(1, []byte("a")))
	require.False(t, m.Start(1, []byte("b")))
}

func TestFIFOExpiryOrder(t *testing.T) {
	m := NewManager[uint64](30*time.Millisecond, nil)
	defer m.Close()

	m.Start(1, []byte{1})
	time.Sleep(5 * time.Millisecond)
	m.Start(2, []byte{2})
	time.Sleep(5 * time.Millisecond)
	m.Start(3, []byte{3})

	var order []uint64
	for i := 0; i < 3; i++ {
		select {
		case ex := <-m.Expired():
			order = append(order, ex.Key)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for expiry")
		}
	}
	require.Equal(t, []uint64{1, 2, 3}, order)
}

func TestDeleteHeadRearmsToNextHead(t *testing.T) {
	m := NewManager[uint64](30*time.Millisecond, nil)
	defer m.Close()

	m.Start(1, []byte{1})
	m.Start(2, []byte{2})

	ud, ok := m.Delete(1)
	require.True(t, ok)
	require.Equal(t, []byte{1}, ud)

	select {
	case ex := <-m.Expired():
		require.Equal(t, uint64(2), ex.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry")
	}
}

func TestDeleteUnknownIDReturnsFalse(t *testing.T) {
	m := NewManager[uint64](30*time.Millisecond, nil)
	defer m.Close()
	_, ok := m.Delete(99)
	require.False(t, ok)
}

func TestDeleteNonHeadDoesNotDisturbHead(t *testing.T) {
	m := NewManager[uint64](40*time.Millisecond, nil)
	defer m.Close()

	m.Start(1, []byte{1})
	m.Start(2, []byte{2})
	m.Start(3, []byte{3})

	_, ok := m.Delete(2)
	require.True(t, ok)
	require.False(t, m.Empty())

	select {
	case ex := <-m.Expired():
		require.Equal(t, uint64(1), ex.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry")
	}
	select {
	case ex := <-m.Expired():
		require.Equal(t, uint64(3), ex.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry")
	}
}

func TestAdjustAllDelaysOutstandingTimers(t *testing.T) {
	m := NewManager[uint64](20*time.Millisecond, nil)
	defer m.Close()

	m.Start(1, nil)
	m.AdjustAll(200 * time.Millisecond)

	select {
	case <-m.Expired():
		t.Fatal("timer fired before the adjusted deadline")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case ex := <-m.Expired():
		require.Equal(t, uint64(1), ex.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for adjusted expiry")
	}
}

func TestEmpty(t *testing.T) {
	m := NewManager[uint64](10*time.Millisecond, nil)
	defer m.Close()
	require.True(t, m.Empty())
	m.Start(1, nil)
	require.False(t, m.Empty())
}

func TestCloseUnblocksPendingExpiryDelivery(t *testing.T) {
	// Nothing reads m.Expired(); Close must still return promptly instead
	// of leaking the onExpire goroutine forever.
	m := NewManager[uint64](5*time.Millisecond, nil)
	// More timers than Expired's buffer holds, so onExpire goroutines are
	// parked on the send when Close runs.
	for i := uint64(0); i < 300; i++ {
		m.Start(i, nil)
	}
	time.Sleep(30 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

func TestUserDataRecyclerReusesReturnedSlices(t *testing.T) {
	r := NewUserDataRecycler(2)
	b := r.Get(8)
	require.Equal(t, 0, len(b))
	require.GreaterOrEqual(t, cap(b), 8)
	b = append(b, 1, 2, 3)
	r.Put(b)

	b2 := r.Get(8)
	require.Equal(t, 0, len(b2))
	require.GreaterOrEqual(t, cap(b2), 3)
}

func TestUserDataRecyclerBoundedByMax(t *testing.T) {
	r := NewUserDataRecycler(1)
	r.Put([]byte{1})
	r.Put([]byte{2})
	require.Len(t, r.free, 1)
}
