package jabber

import (
	"errors"
	"fmt"

	"muc-connection-manager/internal/config"
	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/room"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// observer логирует уведомления комнаты, будит ожидающие вызовы фасада и выполняет стартовые действия для комнат
// из конфига.
type observer struct {
	m *Manager
	s *session
}

func (o *observer) name() string {
	if o.s.room == nil {
		return ""
	}

	return o.s.room.Room()
}

func (o *observer) Ready() {
	log.Infof("Joined to MUC: %s", o.name())

	o.s.ready = true

	if o.s.channel != nil {
		o.m.startupActions(o.s)
	}
}

func (o *observer) MembersChanged(c room.MembersChange) {
	for _, h := range c.Added {
		log.Infof("MUC %s: %s joined", o.name(), o.inspect(h))
	}

	for _, h := range c.Removed {
		msg := fmt.Sprintf("MUC %s: %s left", o.name(), o.inspect(h))

		if c.Reason.Code != room.ReasonNone {
			msg += fmt.Sprintf(", %s", c.Reason)
		}

		if c.Actor != handles.None {
			msg += fmt.Sprintf(" by %s", o.inspect(c.Actor))
		}

		if c.Message != "" {
			msg += fmt.Sprintf(": %s", c.Message)
		}

		log.Info(msg)
	}
}

func (o *observer) inspect(h handles.Handle) string {
	if s, ok := o.m.Handles.Inspect(h); ok {
		return s
	}

	return fmt.Sprintf("#%d", h)
}

func (o *observer) PropertiesChanged(props []room.Property) {
	log.Debugf("MUC %s: properties changed: %v", o.name(), props)

	if !slices.Contains(props, room.PropPasswordRequired) || o.s.onPasswordRequired == nil {
		return
	}

	if o.s.room.MustProvidePassword() {
		o.s.onPasswordRequired()
	}
}

func (o *observer) CapabilitiesChanged(c room.Capabilities) {
	log.Debugf("MUC %s: can add=%v, can remove=%v, owners known=%v", o.name(), c.CanAdd, c.CanRemove, c.OwnersKnown)
}

func (o *observer) Hidden() {
	log.Infof("MUC %s is hidden until its sub-sessions end", o.name())
}

func (o *observer) Closed(reason room.Reason, err error) {
	bare := o.name()

	if err != nil {
		log.Warnf("Left MUC %s (%s): %s", bare, reason, err)
	} else {
		log.Infof("Left MUC %s", bare)
	}

	if cur, ok := o.m.rooms[bare]; ok && cur == o.s {
		delete(o.m.rooms, bare)
	}

	o.m.dropSubSessions(o.s)

	waiters := o.s.onClosed
	o.s.onClosed = nil

	for _, f := range waiters {
		f(err)
	}

	if o.m.shouldRejoin(o.s, reason, err) {
		ch := o.s.channel
		delay := config.Seconds(o.m.C.Jabber.ReconnectDelay)

		log.Infof("Rejoining MUC %s in %s", bare, delay)

		o.m.sched.AfterFunc(delay, func() {
			if err := o.m.JoinMuc(ch); err != nil {
				log.Errorf("Unable to rejoin MUC %s: %s", ch.Name, err)
			}
		})
	}
}

// dropSubSessions забывает вложенные сессии закрытой комнаты, если её хэндл не занят новой сессией.
func (m *Manager) dropSubSessions(closed *session) {
	h := closed.room.Handle()

	for _, s := range m.rooms {
		if s != closed && s.room.Handle() == h {
			return
		}
	}

	if ids := m.SubSessions.DropRoom(h); len(ids) > 0 {
		log.Debugf("Dropped sub-sessions of closed MUC %s: %v", closed.room.Room(), ids)
	}
}

// shouldRejoin решает, возвращаться ли в комнату из конфига, которую пришлось покинуть. После потери соединения в
// комнаты возвращает переподключение.
func (m *Manager) shouldRejoin(s *session, reason room.Reason, err error) bool {
	switch {
	case s.channel == nil || !s.ready || err == nil || m.Shutdown.Load():
		return false
	case reason.Code == room.ReasonBanned:
		return false
	case errors.Is(err, room.ErrTransport), errors.Is(err, room.ErrCancelled):
		return false
	default:
		return true
	}
}

// startupActions выставляет тему и конфигурацию комнаты из конфига.
func (m *Manager) startupActions(s *session) {
	ch := s.channel
	r := s.room

	if subject, _, _ := r.Subject(); ch.Subject != "" && ch.Subject != subject {
		err := r.SetSubject(ch.Subject, func(err error) {
			if err != nil {
				log.Warnf("Unable to set subject of MUC %s: %s", ch.Name, err)
			}
		})

		if err != nil {
			log.Warnf("Unable to set subject of MUC %s: %s", ch.Name, err)
		}
	}

	if len(ch.Config) == 0 {
		return
	}

	fields, err := ConfigFields(ch.Config)

	if err == nil {
		err = r.UpdateConfiguration(fields, func(err error) {
			if err != nil {
				log.Warnf("Unable to configure MUC %s: %s", ch.Name, err)
			} else {
				log.Infof("MUC %s configured", ch.Name)
			}
		})
	}

	if err != nil {
		log.Warnf("Unable to configure MUC %s: %s", ch.Name, err)
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
