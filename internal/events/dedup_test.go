package events

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestDedup_Window(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := newDedup(time.Minute)
	d.now = func() time.Time { return now }

	if d.duplicate("a") {
		t.Fatal("first sighting reported as duplicate")
	}
	if !d.duplicate("a") {
		t.Fatal("second sighting within ttl not reported")
	}

	now = now.Add(2 * time.Minute)
	if d.duplicate("a") {
		t.Fatal("sighting after ttl reported as duplicate")
	}
	d.duplicate("b")
	now = now.Add(2 * time.Minute)
	d.duplicate("c")
	if got := d.len(); got != 1 {
		t.Fatalf("len after sweep = %d, want 1", got)
	}
}

func TestChannel_DropsRedeliveredEvents(t *testing.T) {
	src := newFakeSource()
	c := New[int]("test", src).WithDedup(func(v int) string {
		if v < 0 {
			return ""
		}
		return strconv.Itoa(v)
	}, time.Minute)

	var got atomic.Int64
	c.Subscribe(func(_ context.Context, v int) error {
		got.Add(1)
		return nil
	})

	stop := runChannel(t, c, src)
	defer stop()

	for _, v := range []int{1, 1, 2, -1, -1, 1} {
		src.sink <- v
	}
	waitFor(t, func() bool { return got.Load() == 4 })
	waitFor(t, func() bool { return c.duplicates.Load() == 2 })
}
