package debounce_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/zsprackett/devserve/internal/debounce"
)

func collector() (chan string, func(string)) {
	ch := make(chan string, 16)
	return ch, func(s string) { ch <- s }
}

func expectNone(t *testing.T, ch chan string) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("expected no delivery, got %q", got)
	case <-time.After(30 * time.Millisecond):
	}
}

func expectOne(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("expected a delivery, got none")
		return ""
	}
}

func TestDebouncer_CoalescesBurstIntoLastValue(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch, fn := collector()
	d := debounce.New(clock, 100*time.Millisecond, fn)

	// Calls at t=0, 10, 20, 90ms.
	d.Call("a")
	clock.Advance(10 * time.Millisecond)
	d.Call("b")
	clock.Advance(10 * time.Millisecond)
	d.Call("c")
	clock.Advance(70 * time.Millisecond)
	d.Call("d")

	// t=189ms: the window opened by the t=90 call has not elapsed.
	clock.Advance(99 * time.Millisecond)
	expectNone(t, ch)

	// t=190ms.
	clock.Advance(time.Millisecond)
	if got := expectOne(t, ch); got != "d" {
		t.Errorf("delivered %q, want d", got)
	}
	expectNone(t, ch)
}

func TestDebouncer_SpacedCallsDeliverIndependently(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch, fn := collector()
	d := debounce.New(clock, 100*time.Millisecond, fn)

	d.Call("first")
	clock.Advance(150 * time.Millisecond)
	if got := expectOne(t, ch); got != "first" {
		t.Errorf("got %q want first", got)
	}

	d.Call("second")
	clock.Advance(150 * time.Millisecond)
	if got := expectOne(t, ch); got != "second" {
		t.Errorf("got %q want second", got)
	}
}

func TestDebouncer_ZeroWaitPassesThrough(t *testing.T) {
	var got []string
	d := debounce.New(nil, 0, func(s string) { got = append(got, s) })

	for _, s := range []string{"1", "2", "3"} {
		d.Call(s)
	}
	if len(got) != 3 || got[0] != "1" || got[1] != "2" || got[2] != "3" {
		t.Errorf("expected in-order passthrough, got %v", got)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch, fn := collector()
	d := debounce.New(clock, 100*time.Millisecond, fn)

	d.Call("pending")
	if !d.Pending() {
		t.Fatal("expected a pending call")
	}
	d.Stop()
	if d.Pending() {
		t.Error("expected no pending call after Stop")
	}
	clock.Advance(time.Second)
	expectNone(t, ch)

	d.Call("after-stop")
	clock.Advance(time.Second)
	expectNone(t, ch)
}
