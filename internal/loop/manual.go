package loop

import (
	"time"
)

// Manual - планировщик с ручным временем. Таймеры срабатывают только внутри Advance, в той же горутине, что его
// вызвала. Нужен для детерминированных тестов.
type Manual struct {
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	every   time.Duration
	seq     int
	f       func()
	stopped bool
}

// NewManual создаёт планировщик, часы которого стоят на now.
func NewManual(now time.Time) *Manual {
	return &Manual{now: now} //nolint:exhaustruct
}

// Now возвращает текущее время планировщика.
func (m *Manual) Now() time.Time {
	return m.now
}

// AfterFunc заводит одноразовый таймер.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	return m.add(d, 0, f)
}

// Every заводит периодический таймер.
func (m *Manual) Every(d time.Duration, f func()) Timer {
	if d <= 0 {
		d = time.Nanosecond
	}

	return m.add(d, d, f)
}

func (m *Manual) add(d, every time.Duration, f func()) *manualTimer {
	m.seq++

	tm := &manualTimer{
		at:    m.now.Add(d),
		every: every,
		seq:   m.seq,
		f:     f,
	}

	m.timers = append(m.timers, tm)

	return tm
}

// Advance переводит часы на d вперёд и по порядку выполняет все таймеры, срок которых наступил.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)

	for {
		next := m.due(target)

		if next == nil {
			break
		}

		m.now = next.at

		if next.every > 0 {
			next.at = next.at.Add(next.every)
		} else {
			next.stopped = true
		}

		next.f()
	}

	m.now = target
	m.compact()
}

// Pending возвращает количество активных таймеров.
func (m *Manual) Pending() int {
	n := 0

	for _, tm := range m.timers {
		if !tm.stopped {
			n++
		}
	}

	return n
}

func (m *Manual) due(target time.Time) *manualTimer {
	var next *manualTimer

	for _, tm := range m.timers {
		if tm.stopped || tm.at.After(target) {
			continue
		}

		if next == nil || tm.at.Before(next.at) || (tm.at.Equal(next.at) && tm.seq < next.seq) {
			next = tm
		}
	}

	return next
}

func (m *Manual) compact() {
	live := m.timers[:0]

	for _, tm := range m.timers {
		if !tm.stopped {
			live = append(live, tm)
		}
	}

	m.timers = live
}

func (tm *manualTimer) Stop() {
	tm.stopped = true
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
