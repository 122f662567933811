package jabber

import (
	"fmt"
	"time"

	"muc-connection-manager/internal/config"
	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/room"
	"muc-connection-manager/internal/wire"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// transport отдаёт комнатам станзы в сериализованном виде через SendOrg и сводит ответы на iq с запросами.
type transport struct {
	m *Manager
}

func (t transport) SendPresence(p wire.Presence) error {
	return t.m.send(p)
}

func (t transport) SendMessage(msg wire.Message) error {
	return t.m.send(msg)
}

// SendIQ отправляет iq и ждёт ответ не дольше iqTimeout. go-xmpp отдаёт ответы на disco#info без id, поэтому такие
// запросы дополнительно запоминаются по адресату.
func (t transport) SendIQ(iq wire.IQ, reply func(*wire.IQ, error)) error {
	m := t.m

	if iq.ID == "" {
		iq.ID = uuid.NewString()
	}

	if err := m.send(iq); err != nil {
		return err
	}

	to, err := handles.Normalize(iq.To)

	if err != nil {
		to = iq.To
	}

	p := &pendingIQ{
		id:    iq.ID,
		to:    to,
		disco: iq.Type == wire.IQGet && iq.DiscoInfo != nil,
		reply: reply,
		timer: nil,
	}

	id := p.id
	p.timer = m.sched.AfterFunc(m.iqTimeout(), func() {
		m.resolveIQ(id, nil, fmt.Errorf("%w: no reply to iq %s from %s", room.ErrTransport, id, to))
	})

	m.iqs[id] = p

	if p.disco {
		m.discos[to] = append(m.discos[to], id)
	}

	return nil
}

func (m *Manager) send(v interface{}) error {
	raw, err := wire.Marshal(v)

	if err != nil {
		return err
	}

	if _, err := m.Talk.SendOrg(raw); err != nil {
		return fmt.Errorf("unable to send stanza to jabber server: %w", err)
	}

	return nil
}

// Ответ на iq ждём не дольше трёх таймаутов соединения.
func (m *Manager) iqTimeout() time.Duration {
	return 3 * config.Seconds(m.C.Jabber.ConnectionTimeout)
}

// resolveIQ снимает запрос с ожидания и отдаёт ответ. Ответы на неизвестные и уже снятые запросы игнорируются.
func (m *Manager) resolveIQ(id string, iq *wire.IQ, err error) bool {
	p, ok := m.iqs[id]

	if !ok {
		return false
	}

	delete(m.iqs, id)

	if p.timer != nil {
		p.timer.Stop()
	}

	if p.disco {
		m.forgetDisco(p.to, id)
	}

	if err != nil {
		log.Debugf("Iq %s to %s failed: %s", id, p.to, err)
	}

	if p.reply != nil {
		p.reply(iq, err)
	}

	return true
}

// takeDisco возвращает самый старый запрос disco#info к адресату.
func (m *Manager) takeDisco(to string) (string, bool) {
	ids := m.discos[to]

	if len(ids) == 0 {
		return "", false
	}

	return ids[0], true
}

func (m *Manager) forgetDisco(to, id string) {
	ids := m.discos[to]

	for n, v := range ids {
		if v == id {
			ids = append(ids[:n], ids[n+1:]...)

			break
		}
	}

	if len(ids) == 0 {
		delete(m.discos, to)
	} else {
		m.discos[to] = ids
	}
}

// dropIQs снимает все ожидающие запросы с ошибкой транспорта.
func (m *Manager) dropIQs(cause error) {
	err := fmt.Errorf("%w: connection lost", room.ErrTransport)

	if cause != nil {
		err = fmt.Errorf("%w: connection lost: %w", room.ErrTransport, cause)
	}

	for id := range m.iqs {
		m.resolveIQ(id, nil, err)
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
