package jabber

import (
	"os"
	"syscall"

	"muc-connection-manager/internal/room"

	log "github.com/sirupsen/logrus"
)

// SigHandler ждёт сигнал завершения, немедленно закрывает все комнаты и завершает процесс.
func (m *Manager) SigHandler() {
	log.Debug("Installing signal handler")

	for s := range m.SigChan {
		switch s {
		case syscall.SIGINT:
			log.Infoln("Got SIGINT, quitting")
		case syscall.SIGTERM:
			log.Infoln("Got SIGTERM, quitting")
		case syscall.SIGQUIT:
			log.Infoln("Got SIGQUIT, quitting")

		// Заходим на новую итерацию, если у нас "неинтересный" сигнал.
		default:
			continue
		}

		m.Stop()

		os.Exit(0)
	}
}

// Stop немедленно закрывает все комнаты (с прощальным presence, если соединение живо) и гасит текущее соединение.
func (m *Manager) Stop() {
	// Чтобы не срать в логи ошибками, проставим shutdown state приложения в true.
	m.Shutdown.Store(true)

	m.onLoop(func() {
		for _, bare := range m.roomNames() {
			if s, ok := m.rooms[bare]; ok {
				if err := s.room.Close(room.CloseImmediate); err != nil {
					log.Debugf("Unable to close MUC %s: %s", bare, err)
				}
			}
		}
	})

	m.mu.Lock()
	t := m.GTomb
	m.mu.Unlock()

	if t != nil {
		t.Kill(nil)
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
