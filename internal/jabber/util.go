package jabber

import (
	"fmt"
	"math/rand"
	"time"

	"muc-connection-manager/internal/config"
	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/room"
	"muc-connection-manager/internal/wire"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"mellium.im/xmpp/jid"
)

// EstablishConnection выполняет стартовые действия на свежем соединении: keepalive, disco#info сервера, вход в
// комнаты из конфига и запуск пингов. Выполняется в горутине цикла.
func (m *Manager) EstablishConnection() error {
	// По идее keepalive должен же проходить только, если мы уже на сервере, так?
	if _, err := m.Talk.SendKeepAlive(); err != nil {
		return fmt.Errorf("try to send initial KeepAlive, got error: %w", err)
	}

	log.Info("Connected")
	log.Debugf("Sending disco#info to %s", m.C.Jabber.Server)

	err := transport{m: m}.SendIQ(
		wire.IQ{To: m.C.Jabber.Server, Type: wire.IQGet, DiscoInfo: &wire.DiscoInfo{}}, //nolint:exhaustruct
		m.onServerDisco,
	)

	if err != nil {
		return fmt.Errorf("unable to send disco#info to jabber server: %w", err)
	}

	for n := range m.C.Jabber.Channels {
		if err := m.JoinMuc(&m.C.Jabber.Channels[n]); err != nil {
			log.Errorf("Unable to join to MUC %s: %s", m.C.Jabber.Channels[n].Name, err)
		}
	}

	m.scheduleProbe()

	return nil
}

func (m *Manager) onServerDisco(iq *wire.IQ, err error) {
	m.ServerCapsQueried = true

	if err == nil && iq != nil && iq.Type == wire.IQResult && iq.DiscoInfo != nil {
		for _, f := range iq.DiscoInfo.Features {
			m.ServerCaps[f.Var] = true
		}

		return
	}

	if err == nil && iq != nil && iq.Error != nil {
		err = iq.Error
	}

	log.Infof("Server did not answer disco#info, will use whitespace keepalive: %v", err)
}

// isServer проверяет, что станза пришла от нашего сервера. Ответ на c2s ping может прийти и без from.
func (m *Manager) isServer(from string) bool {
	if from == "" || from == m.C.Jabber.Server {
		return true
	}

	j, err := jid.Parse(m.C.Jabber.User)

	return err == nil && from == j.Domainpart()
}

// JoinMuc заводит сессию для комнаты из конфига и входит в неё. Стартовые действия выполняются, когда комната
// сообщит о готовности.
func (m *Manager) JoinMuc(ch *config.Channel) error {
	s, err := m.newSession(JoinRequest{Room: ch.Name, Nick: ch.Nick, Password: ch.Password}, ch)

	if err != nil {
		return err
	}

	log.Infof("Joining to MUC: %s", ch.Name)

	return s.room.Join(func(err error) {
		if err != nil {
			log.Errorf("Unable to enter to MUC %s: %s", ch.Name, err)
		}
	})
}

// newSession создаёт сессию комнаты и регистрирует её. Вход не начинается.
func (m *Manager) newSession(req JoinRequest, ch *config.Channel) (*session, error) {
	bare, err := handles.Normalize(req.Room)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", room.ErrInvalidArgument, err)
	}

	if _, ok := m.rooms[bare]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomExists, bare)
	}

	nick := req.Nick

	if nick == "" {
		nick = m.C.Jabber.Nick
	}

	s := &session{channel: ch} //nolint:exhaustruct
	muc := m.C.Jabber.MUC

	r, err := room.NewRoom(
		room.Options{
			Room:                     bare,
			Nick:                     nick,
			Password:                 req.Password,
			RealJID:                  m.Talk.JID(),
			JoinTimeout:              config.Seconds(muc.JoinTimeout),
			LeaveTimeout:             config.Seconds(muc.LeaveTimeout),
			PollInterval:             config.Seconds(muc.PollInterval),
			PollIntervalLowBandwidth: config.Seconds(muc.PollIntervalLowBandwidth),
			LowBandwidth:             m.C.Jabber.LowBandwidth,
			MaxNickRetries:           muc.MaxNickRetries,
			Now:                      m.now,
		},
		room.Deps{
			Transport:   transport{m: m},
			Handles:     m.Handles,
			Scheduler:   m.sched,
			Observer:    &observer{m: m, s: s},
			SubSessions: m.SubSessions,
		},
	)

	if err != nil {
		return nil, err
	}

	s.room = r
	m.rooms[r.Room()] = s

	return s, nil
}

// scheduleProbe заводит следующий пинг сервера с небольшим случайным разбросом.
func (m *Manager) scheduleProbe() {
	delay := config.Seconds(m.C.Jabber.ServerPingDelay)

	if splay := m.C.Jabber.PingSplayDelay; splay > 0 {
		delay += time.Duration(rand.Int63n(1000*splay)) * time.Millisecond //nolint:gosec
	}

	m.keepaliveTimer = m.sched.AfterFunc(delay, func() {
		if err := m.ProbeServerLiveness(); err != nil {
			m.GTomb.Kill(err)

			return
		}

		m.scheduleProbe()
	})
}

// ProbeServerLiveness проверяет живость соединения с сервером. Для многих серверов обязательная штука, без которой
// они выкидывают (дисконнектят) клиента через некоторое время неактивности.
func (m *Manager) ProbeServerLiveness() error {
	if m.Shutdown.Load() {
		return nil
	}

	// Сервер анонсировал, что умеет в c2s пинги
	if m.ServerCapsQueried && m.ServerCaps[featurePing] {
		// Таймаут c2s пинга. Возьмём сумму задержки между пингами, добавим таймаут коннекта и добавим
		// максимальную корректировку разброса.
		rxTimeout := m.C.Jabber.ServerPingDelay + m.C.Jabber.ConnectionTimeout + m.C.Jabber.PingSplayDelay
		rxTimeAgo := m.now().Unix() - m.ServerPingTimestampRx

		// Давненько мы не получали понгов от сервера, вероятно, соединение с сервером утеряно?
		if m.ServerPingTimestampTx > 0 && rxTimeAgo > rxTimeout*2 {
			return fmt.Errorf("stall connection detected. No c2s pong for %d seconds", rxTimeAgo)
		}

		log.Debugf("Sending c2s ping from %s to %s", m.Talk.JID(), m.C.Jabber.Server)

		if err := m.Talk.PingC2S(m.Talk.JID(), m.C.Jabber.Server); err != nil {
			return fmt.Errorf("unable to send c2s ping: %w", err)
		}

		m.ServerPingTimestampTx = m.now().Unix()

		return nil
	}

	log.Debug("Sending keepalive whitespace ping")

	if _, err := m.Talk.SendKeepAlive(); err != nil {
		return fmt.Errorf("unable to send keepalive: %w", err)
	}

	return nil
}

// disconnect немедленно закрывает все комнаты и снимает ожидающие iq. Зовётся, когда соединения уже нет.
func (m *Manager) disconnect(cause error) {
	if m.keepaliveTimer != nil {
		m.keepaliveTimer.Stop()
		m.keepaliveTimer = nil
	}

	for _, bare := range m.roomNames() {
		if s, ok := m.rooms[bare]; ok {
			s.room.Dispatch(room.TransportLost{Err: cause})
		}
	}

	m.dropIQs(cause)
}

// roomNames возвращает jid-ы комнат в порядке возрастания.
func (m *Manager) roomNames() []string {
	names := make([]string, 0, len(m.rooms))

	for bare := range m.rooms {
		names = append(names, bare)
	}

	slices.Sort(names)

	return names
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
