package jabber

import (
	"time"

	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/room"
	"muc-connection-manager/internal/wire"

	"github.com/davecgh/go-spew/spew"
	"github.com/eleksir/go-xmpp"
	log "github.com/sirupsen/logrus"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// ParseEvent парсит ивенты, прилетающие из модуля xmpp, и раздаёт их комнатам. Выполняется в горутине цикла.
func (m *Manager) ParseEvent(e interface{}) {
	m.LastServerActivity = m.now().Unix()

	switch v := e.(type) {
	// Сообщение в чяти или смена темы
	case xmpp.Chat:
		m.parseChat(v)

	// Смена статуса участника
	case xmpp.Presence:
		m.parsePresence(v)

	// IQ-сообщение - пинг, понг, ответ на наш запрос...
	case xmpp.IQ:
		m.parseIQ(v)

	// Ответ на запрос поддерживаемых фич, который "http://jabber.org/protocol/disco#info"
	case xmpp.DiscoResult:
		m.parseDiscoResult(v)

	// Это что-то неизвестное, подампим событие в лог
	default:
		log.Info(spew.Sdump(e))
	}
}

// roomFor ищет сессию комнаты по jid-у отправителя.
func (m *Manager) roomFor(from string) (*session, bool) {
	j, err := jid.Parse(from)

	if err != nil {
		return nil, false
	}

	s, ok := m.rooms[j.Bare().String()]

	return s, ok
}

func (m *Manager) parseChat(v xmpp.Chat) {
	log.Debugf("Looks like message, ChatType: %s, From: %s, Subject: %s Text: %s", v.Type, v.Remote, v.Subject, v.Text)

	s, ok := m.roomFor(v.Remote)

	if !ok {
		log.Debugf("Skipping message from %s, no such room", v.Remote)

		return
	}

	msg := chatToMessage(v)

	// Пустое групповое сообщение - это сброс темы, только если оно от самой комнаты или от нас. От остальных такое
	// прилетает, например, как chat state notification.
	if msg.Subject == nil && v.Type == wire.MessageGroupChat && v.Text == "" {
		from, _ := handles.Normalize(v.Remote)
		roomJID, _ := handles.Normalize(s.room.Room())

		if from == roomJID || from == s.room.SelfJID() {
			empty := ""
			msg.Subject = &empty
		}
	}

	s.room.Dispatch(room.MessageReceived{Message: msg})
}

// chatToMessage переводит xmpp.Chat в wire.Message. go-xmpp не отличает пустой <subject/> от его отсутствия, поэтому
// тема - это групповое сообщение с subject, но без text. id сообщения go-xmpp тоже не отдаёт.
func chatToMessage(v xmpp.Chat) wire.Message {
	msg := wire.Message{ //nolint:exhaustruct
		From: v.Remote,
		Type: v.Type,
		Body: v.Text,
	}

	if v.Type == wire.MessageGroupChat && v.Text == "" && v.Subject != "" {
		subject := v.Subject
		msg.Subject = &subject
	}

	if !v.Stamp.IsZero() {
		msg.Delay = &wire.Delay{Stamp: v.Stamp.UTC().Format(time.RFC3339)} //nolint:exhaustruct
	}

	// Условие ошибки go-xmpp не отдаёт. Тему из отбитого сервером сообщения оставляем, по ней комната узнаёт свой запрос.
	if v.Type == wire.MessageError {
		msg.Error = &wire.Error{Type: "cancel", Condition: stanza.UndefinedCondition} //nolint:exhaustruct

		if v.Subject != "" {
			subject := v.Subject
			msg.Subject = &subject
		}
	}

	return msg
}

func (m *Manager) parsePresence(v xmpp.Presence) {
	log.Debugf(
		"Presence notification, Type: %s, From: %s, To: %s Show: %s, Status: %s, Affiliation: %s, Role: %s, JID: %s",
		v.Type, v.From, v.To, v.Show, v.Status, v.Affiliation, v.Role, v.JID,
	)

	s, ok := m.roomFor(v.From)

	if !ok {
		log.Debugf("Skipping presence from %s, no such room", v.From)

		return
	}

	s.room.Dispatch(room.PresenceReceived{Presence: presenceToWire(v)})
}

// presenceToWire переводит xmpp.Presence в wire.Presence. go-xmpp отдаёт из muc#user только affiliation, role и jid
// одного item-а, коды статусов и условие ошибки теряются.
func presenceToWire(v xmpp.Presence) wire.Presence {
	p := wire.Presence{ //nolint:exhaustruct
		From:   v.From,
		To:     v.To,
		Type:   v.Type,
		Show:   v.Show,
		Status: v.Status,
	}

	if v.Affiliation != "" || v.Role != "" || v.JID != "" {
		p.User = &wire.User{ //nolint:exhaustruct
			Items: []wire.Item{{ //nolint:exhaustruct
				Affiliation: v.Affiliation,
				Role:        v.Role,
				JID:         v.JID,
			}},
		}
	}

	if v.Type == wire.PresenceError {
		p.Error = &wire.Error{Type: "cancel", Condition: stanza.UndefinedCondition} //nolint:exhaustruct
	}

	return p
}

func (m *Manager) parseIQ(v xmpp.IQ) {
	// По правилам IQ обязательно должна содержать ID, причём не пустой
	if v.ID == "" {
		log.Info("Got an IQ stanza with empty id, discarding")

		return
	}

	switch v.Type {
	case xmpp.IQTypeGet:
		m.answerQuery(v)

	// Этот клиент не управляется со стороны сервера, поэтому все попытки порулить отклоняем
	case xmpp.IQTypeSet:
		log.Infof("Got an IQ set request from %s, answer service unavailable", v.From)
		m.answerError(v, stanza.ServiceUnavailable)

	case xmpp.IQTypeResult, xmpp.IQTypeError:
		m.parseIQReply(v)

	// Нам прилетело что-то неизвестное из семейства IQ stanza
	default:
		log.Info("Got an unknown IQ request. Dunno how deal with it, discarding")
		log.Info(spew.Sdump(v))
	}
}

func (m *Manager) parseIQReply(v xmpp.IQ) {
	iq, err := wire.UnmarshalIQ(v.ID, v.From, v.To, v.Type, v.Query)

	if err != nil {
		log.Infof("Unable to parse IQ reply: %s", err)
		log.Debug(spew.Sdump(v))

		// Ответ всё равно снимаем с ожидания, для комнаты это нарушение протокола.
		iq = wire.IQ{ID: v.ID, From: v.From, To: v.To, Type: v.Type} //nolint:exhaustruct
	}

	if m.resolveIQ(v.ID, &iq, nil) {
		return
	}

	switch {
	// Похоже на pong от сервера
	case m.isServer(v.From) && v.Type == xmpp.IQTypeResult:
		log.Debugf("Got S2C pong answer from %s to %s", v.From, v.To)
		m.ServerPingTimestampRx = m.now().Unix()

	// Если сервер не хочет пинговаться и отвечает ошибкой на пинг, то наверно он не умеет в пинги
	case m.isServer(v.From) && v.Type == xmpp.IQTypeError:
		log.Error("Server gives us an error to c2s ping, fallback to keepalive whitespace pings")

		m.ServerCaps[featurePing] = false

	default:
		log.Infof("Got an IQ %s from %s with unknown id %s, discarding", v.Type, v.From, v.ID)
		log.Debug(spew.Sdump(v))
	}
}

func (m *Manager) parseDiscoResult(v xmpp.DiscoResult) {
	from, err := handles.Normalize(v.From)

	if err != nil {
		from = v.From
	}

	iq := wire.IQ{ //nolint:exhaustruct
		From:      v.From,
		To:        v.To,
		Type:      wire.IQResult,
		DiscoInfo: &wire.DiscoInfo{}, //nolint:exhaustruct
	}

	for _, ident := range v.Identities {
		iq.DiscoInfo.Identities = append(iq.DiscoInfo.Identities, wire.Identity{
			Category: ident.Category,
			Type:     ident.Type,
			Name:     ident.Name,
		})
	}

	for _, feature := range v.Features {
		log.Debugf("%s announced that it supports feature: %s", v.From, feature)

		iq.DiscoInfo.Features = append(iq.DiscoInfo.Features, wire.Feature{Var: feature})
	}

	id, ok := m.takeDisco(from)

	if !ok {
		log.Debugf("Got unsolicited reply to disco#info from %s", v.From)
		log.Debug(spew.Sdump(v))

		return
	}

	iq.ID = id
	m.resolveIQ(id, &iq, nil)
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
