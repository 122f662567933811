package jabber

import (
	"context"
	"fmt"
	"os"
	"time"

	"muc-connection-manager/internal/config"
	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/loop"
	"muc-connection-manager/internal/room"

	"github.com/eleksir/go-xmpp"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"
)

// Размер очереди цикла событий. Recv блокируется, если цикл не успевает.
const eventQueueSize = 256

// New создаёт менеджер по конфигу. Соединение устанавливает MyLoop.
func New(c *config.Config) *Manager {
	return &Manager{ //nolint:exhaustruct
		C:           c,
		Dial:        dial,
		Handles:     handles.New(),
		SubSessions: room.NewSubSessionTable(),
		SigChan:     make(chan os.Signal, 1),
		now:         time.Now,
	}
}

func dial(o *xmpp.Options) (Client, error) {
	talk, err := o.NewClient()

	if err != nil {
		return nil, err
	}

	return talk, nil
}

// reset готовит состояние к новому соединению. Комнат после прошлого соединения не остаётся, их закрывает disconnect.
func (m *Manager) reset(talk Client, sched loop.Scheduler) {
	m.Talk = talk
	m.sched = sched
	m.rooms = make(map[string]*session)
	m.iqs = make(map[string]*pendingIQ)
	m.discos = make(map[string][]string)
	m.ServerCaps = make(map[string]bool)
	m.ServerCapsQueried = false
	m.LastServerActivity = m.now().Unix()
	m.ServerPingTimestampTx = 0
	// Считаем, что если коннект запустился, то первый пинг успешен.
	m.ServerPingTimestampRx = m.now().Unix()
	m.keepaliveTimer = nil
}

// Connect держит одно соединение: запускает MyLoop в свежем tomb-е и ждёт, пока оно умрёт. Возвращает причину.
func (m *Manager) Connect() error {
	t := new(tomb.Tomb)

	m.mu.Lock()
	m.GTomb = t
	m.mu.Unlock()

	t.Go(m.MyLoop)

	return t.Wait()
}

// MyLoop - основной цикл соединения: подключается, запускает цикл событий и гребёт станзы, пока жив GTomb.
func (m *Manager) MyLoop() error {
	log.Debugf("Establishing connection to %s", m.Options.Host)

	talk, err := m.Dial(m.Options)

	if err != nil {
		return fmt.Errorf("unable to connect to %s: %w", m.Options.Host, err)
	}

	var (
		lp   = loop.New(m.GTomb, eventQueueSize)
		done = make(chan struct{})
	)

	m.reset(talk, lp)

	m.mu.Lock()
	m.lp = lp
	m.loopDone = done
	m.mu.Unlock()

	m.GTomb.Go(func() error {
		defer close(done)

		return lp.Run()
	})

	// Когда соединение умирает, комнаты закрываются немедленно, а клиент закрывается, чтобы отпустить Recv.
	m.GTomb.Go(func() error {
		<-m.GTomb.Dying()

		m.onLoop(func() { m.disconnect(m.GTomb.Err()) })

		log.Infoln("Closing connection to jabber server")

		if err := talk.Close(); err != nil {
			log.Debugf("Unable to close connection to jabber server: %s", err)
		}

		return nil
	})

	var connErr error

	m.onLoop(func() { connErr = m.EstablishConnection() })

	if connErr != nil {
		return connErr
	}

	// Гребём ивенты...
	for {
		ev, err := talk.Recv()

		if err != nil {
			select {
			case <-m.GTomb.Dying():
				return nil
			default:
			}

			return fmt.Errorf("unable to receive from jabber server: %w", err)
		}

		if !lp.Post(func() { m.ParseEvent(ev) }) {
			return nil
		}
	}
}

// onLoop выполняет f в горутине цикла и ждёт завершения. Если цикл уже остановлен, f выполняется на месте, но только
// после того, как цикл точно вышел.
func (m *Manager) onLoop(f func()) {
	m.mu.Lock()
	lp, done := m.lp, m.loopDone
	m.mu.Unlock()

	if lp == nil {
		f()

		return
	}

	finished := make(chan struct{})

	if lp.Post(func() { defer close(finished); f() }) {
		select {
		case <-finished:
			return
		case <-done:
		}

		// Цикл вышел. Если f успела выполниться, finished уже закрыт.
		select {
		case <-finished:
			return
		default:
		}
	} else {
		<-done
	}

	f()
}

// do выполняет f в горутине цикла и ждёт, пока f или её продолжение вызовет reply. Учитывается только первый
// вызов reply.
func (m *Manager) do(ctx context.Context, f func(reply func(error))) error {
	m.mu.Lock()
	lp, done := m.lp, m.loopDone
	m.mu.Unlock()

	if lp == nil {
		return ErrNotConnected
	}

	result := make(chan error, 1)

	reply := func(err error) {
		select {
		case result <- err:
		default:
		}
	}

	if !lp.Post(func() { f(reply) }) {
		return ErrNotConnected
	}

	select {
	case err := <-result:
		return err

	case <-ctx.Done():
		return ctx.Err()

	case <-done:
		select {
		case err := <-result:
			return err
		default:
			return ErrNotConnected
		}
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
