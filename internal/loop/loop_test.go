package loop

import (
	"testing"
	"time"

	"gopkg.in/tomb.v2"
)

func TestPostRunsInOrder(t *testing.T) {
	var tb tomb.Tomb

	l := New(&tb, 16)
	tb.Go(l.Run)

	got := make(chan int, 3)

	for i := 1; i <= 3; i++ {
		n := i

		if !l.Post(func() { got <- n }) {
			t.Fatal("post rejected by a live loop")
		}
	}

	for want := 1; want <= 3; want++ {
		select {
		case n := <-got:
			if n != want {
				t.Errorf("out of order: want=%d, got=%d", want, n)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for posted func")
		}
	}

	tb.Kill(nil)

	if err := tb.Wait(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if l.Post(func() {}) {
		t.Error("post must fail on a dead loop")
	}
}

func TestStoppedTimerDoesNotFire(t *testing.T) {
	var tb tomb.Tomb

	l := New(&tb, 16)
	tb.Go(l.Run)

	defer func() {
		tb.Kill(nil)
		_ = tb.Wait()
	}()

	fired := make(chan string, 2)
	stopped := make(chan struct{})

	l.Post(func() {
		tm := l.AfterFunc(10*time.Millisecond, func() { fired <- "stopped" })
		tm.Stop()
		close(stopped)
	})

	<-stopped

	l.Post(func() {
		l.AfterFunc(20*time.Millisecond, func() { fired <- "live" })
	})

	select {
	case got := <-fired:
		if got != "live" {
			t.Errorf("stopped timer fired")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for timer")
	}
}

func TestManualAdvance(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	var got []string

	m.AfterFunc(5*time.Second, func() { got = append(got, "once") })
	tick := m.Every(2*time.Second, func() { got = append(got, "tick") })
	stopped := m.AfterFunc(time.Second, func() { got = append(got, "never") })
	stopped.Stop()

	m.Advance(6 * time.Second)

	want := []string{"tick", "tick", "once", "tick"}

	if len(got) != len(want) {
		t.Fatalf("wrong firing sequence: want=%v, got=%v", want, got)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("wrong firing sequence: want=%v, got=%v", want, got)

			break
		}
	}

	if m.Pending() != 1 {
		t.Errorf("only the ticker must remain: got=%d", m.Pending())
	}

	tick.Stop()
	m.Advance(time.Minute)

	if m.Pending() != 0 || len(got) != len(want) {
		t.Errorf("stopped ticker fired: %v", got)
	}

	if !m.Now().Equal(time.Unix(66, 0)) {
		t.Errorf("wrong clock: %v", m.Now())
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
