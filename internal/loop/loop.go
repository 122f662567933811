// Package loop - однопоточный цикл событий. Все изменения состояния комнат выполняются в одной горутине, поэтому
// блокировки им не нужны: входящие станзы, срабатывания таймеров и вызовы фасада становятся в очередь и
// выполняются строго по порядку.
package loop

import (
	"time"

	"gopkg.in/tomb.v2"
)

// Timer - отменяемый таймер. Stop вызывается только из горутины цикла; колбэк остановленного таймера не выполняется,
// даже если он уже стоял в очереди.
type Timer interface {
	Stop()
}

// Scheduler заводит одноразовые и периодические таймеры, колбэки которых выполняются в цикле событий.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Timer
}

// Loop - очередь функций, которые выполняются в одной горутине, пока жив tomb.
type Loop struct {
	queue chan func()
	t     *tomb.Tomb
}

type loopTimer struct {
	stopped bool
	cancel  func()
}

// New создаёт цикл, привязанный к tomb-у. Цикл сам не стартует, его надо запустить через t.Go(l.Run).
func New(t *tomb.Tomb, size int) *Loop {
	return &Loop{
		queue: make(chan func(), size),
		t:     t,
	}
}

// Post ставит функцию в очередь. Возвращает false, если цикл уже умирает и функция выполнена не будет.
// Звать Post из самого цикла нельзя: при полной очереди это дедлок.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.t.Dying():
		return false
	default:
	}

	select {
	case <-l.t.Dying():
		return false
	case l.queue <- f:
		return true
	}
}

// Run выполняет функции из очереди, пока tomb не начнёт умирать.
func (l *Loop) Run() error {
	for {
		select {
		case <-l.t.Dying():
			return nil

		case f := <-l.queue:
			f()
		}
	}
}

// Dying отдаёт канал, который закрывается, когда цикл завершается.
func (l *Loop) Dying() <-chan struct{} {
	return l.t.Dying()
}

// AfterFunc выполнит f в цикле через d.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	tm := &loopTimer{} //nolint:exhaustruct

	t := time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.stopped {
				return
			}

			tm.stopped = true
			f()
		})
	})

	tm.cancel = func() { t.Stop() }

	return tm
}

// Every выполняет f в цикле каждые d, пока таймер не остановят или цикл не завершится.
func (l *Loop) Every(d time.Duration, f func()) Timer {
	var (
		tm     = &loopTimer{} //nolint:exhaustruct
		done   = make(chan struct{})
		ticker = time.NewTicker(d)
	)

	tm.cancel = func() { close(done) }

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return

			case <-l.t.Dying():
				return

			case <-ticker.C:
				l.Post(func() {
					if !tm.stopped {
						f()
					}
				})
			}
		}
	}()

	return tm
}

func (tm *loopTimer) Stop() {
	if tm.stopped {
		return
	}

	tm.stopped = true
	tm.cancel()
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
