package broker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](s *Subscription[T]) []T {
	var out []T
	for {
		select {
		case msg, ok := <-s.C():
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestFanOut(t *testing.T) {
	b := New[int](8)
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, []int{1, 2}, drain(a))
	assert.Equal(t, []int{1, 2}, drain(c))
}

func TestLateSubscriberMissesEarlierMessages(t *testing.T) {
	b := New[string](4)
	b.Publish("early")
	s := b.Subscribe()
	b.Publish("late")

	assert.Equal(t, []string{"late"}, drain(s))
}

func TestOverflowDropsOldest(t *testing.T) {
	b := New[int](3)
	s := b.Subscribe()

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}

	assert.Equal(t, []int{3, 4, 5}, drain(s))
	assert.Equal(t, uint64(2), s.Dropped())
}

func TestSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	b := New[int](2)
	slow := b.Subscribe()
	fast := b.Subscribe()

	var got []int
	for i := 1; i <= 4; i++ {
		b.Publish(i)
		got = append(got, drain(fast)...)
	}

	assert.Equal(t, []int{1, 2, 3, 4}, got)
	assert.Equal(t, []int{3, 4}, drain(slow))
}

func TestSubscriptionClose(t *testing.T) {
	b := New[int](2)
	s := b.Subscribe()
	require.Equal(t, 1, b.Len())

	s.Close()
	s.Close()
	assert.Equal(t, 0, b.Len())

	_, ok := <-s.C()
	assert.False(t, ok)

	assert.NotPanics(t, func() { b.Publish(1) })
}

func TestBrokerClose(t *testing.T) {
	b := New[int](2)
	s := b.Subscribe()
	b.Close()

	_, ok := <-s.C()
	assert.False(t, ok)
	assert.NotPanics(t, s.Close)

	late := b.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)
}

func TestConcurrentPublish(t *testing.T) {
	b := New[int](1000)
	s := b.Subscribe()

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Publish(i)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, drain(s), 1000)
}
