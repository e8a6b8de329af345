package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

type fakeSub struct {
	once  sync.Once
	errc  chan error
	unsub chan struct{}
}

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() {
		close(s.unsub)
		close(s.errc)
	})
}

func (s *fakeSub) Err() <-chan error { return s.errc }

// fakeSource records each Subscribe call and exposes the sink.
type fakeSource struct {
	mu    sync.Mutex
	calls int
	sink  chan<- int
	sub   *fakeSub
	ready chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{ready: make(chan struct{})}
}

func (f *fakeSource) Subscribe(_ context.Context, sink chan<- int) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sink = sink
	f.sub = &fakeSub{errc: make(chan error, 1), unsub: make(chan struct{})}
	close(f.ready)
	return f.sub, nil
}

func runChannel(t *testing.T, c *Channel[int], src *fakeSource) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	select {
	case <-src.ready:
	case <-time.After(time.Second):
		t.Fatal("source never subscribed")
	}
	return func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestChannel_DispatchInRegistrationOrder(t *testing.T) {
	c := New[int]("test", nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) Handler[int] {
		return func(context.Context, int) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	c.Subscribe(record("a"))
	c.Subscribe(record("b"))
	c.Subscribe(record("c"))

	c.Dispatch(context.Background(), 1)

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v", order)
	}
}

func TestChannel_FailingHandlerIsIsolated(t *testing.T) {
	c := New[int]("test", nil)

	var got []int
	c.Subscribe(func(context.Context, int) error { return errors.New("boom") })
	c.Subscribe(func(context.Context, int) error { panic("handler bug") })
	c.Subscribe(func(_ context.Context, v int) error {
		got = append(got, v)
		return nil
	})

	c.Dispatch(context.Background(), 7)
	c.Dispatch(context.Background(), 8)

	if len(got) != 2 || got[0] != 7 || got[1] != 8 {
		t.Fatalf("got = %v", got)
	}
	delivered, failed, _ := c.Stats()
	if delivered != 2 || failed != 4 {
		t.Fatalf("stats = %d delivered %d failed", delivered, failed)
	}
}

func TestChannel_UnsubscribeInsideHandler(t *testing.T) {
	c := New[int]("test", nil)

	var selfCalls, otherCalls int
	var tok Token
	tok = c.Subscribe(func(context.Context, int) error {
		selfCalls++
		c.Unsubscribe(tok)
		return nil
	})
	c.Subscribe(func(context.Context, int) error {
		otherCalls++
		return nil
	})

	c.Dispatch(context.Background(), 1)
	c.Dispatch(context.Background(), 2)

	if selfCalls != 1 {
		t.Errorf("self handler called %d times, want 1", selfCalls)
	}
	if otherCalls != 2 {
		t.Errorf("other handler called %d times, want 2", otherCalls)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestChannel_UnsubscribeUnknownToken(t *testing.T) {
	c := New[int]("test", nil)
	c.Subscribe(func(context.Context, int) error { return nil })
	if c.Unsubscribe(Token{}) {
		t.Fatal("Unsubscribe of unknown token returned true")
	}
}

func TestChannel_RunSubscribesOnce(t *testing.T) {
	src := newFakeSource()
	c := New[int]("test", src)

	var mu sync.Mutex
	var got []int
	c.Subscribe(func(_ context.Context, v int) error {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
		return nil
	})

	stop := runChannel(t, c, src)

	if err := c.Run(context.Background()); !errors.Is(err, ErrStarted) {
		t.Fatalf("second Run = %v, want ErrStarted", err)
	}

	src.sink <- 1
	src.sink <- 2
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	stop()

	if src.calls != 1 {
		t.Fatalf("Subscribe called %d times, want 1", src.calls)
	}
	select {
	case <-src.sub.unsub:
	default:
		t.Fatal("upstream subscription not released on stop")
	}
}

func TestChannel_UpstreamErrorKeepsDraining(t *testing.T) {
	src := newFakeSource()
	c := New[int]("test", src)

	var mu sync.Mutex
	var got []int
	c.Subscribe(func(_ context.Context, v int) error {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
		return nil
	})

	stop := runChannel(t, c, src)
	defer stop()

	src.sub.errc <- errors.New("websocket closed")
	waitFor(t, func() bool {
		_, _, upstream := c.Stats()
		return upstream == 1
	})

	src.sink <- 5
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == 5
	})
}

func TestChannel_AccountsChanged(t *testing.T) {
	c := New[int]("test", nil)

	var seen []common.Address
	c.OnIdentityChange(func(a common.Address) { seen = append(seen, a) })

	alice := common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob := common.HexToAddress("0x2222222222222222222222222222222222222222")

	c.AccountsChanged([]common.Address{alice, bob})
	c.AccountsChanged([]common.Address{alice})
	c.AccountsChanged(nil)

	if len(seen) != 2 || seen[0] != alice || seen[1] != (common.Address{}) {
		t.Fatalf("seen = %v", seen)
	}
	if c.Identity() != (common.Address{}) {
		t.Fatalf("Identity = %s, want zero", c.Identity().Hex())
	}
}
