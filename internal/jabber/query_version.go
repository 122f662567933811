package jabber

import (
	"encoding/xml"
	"fmt"
	"runtime"

	"muc-connection-manager/internal/wire"

	"github.com/davecgh/go-spew/spew"
	"github.com/eleksir/go-xmpp"
	log "github.com/sirupsen/logrus"
	"mellium.im/xmpp/disco"
	"mellium.im/xmpp/muc"
	"mellium.im/xmpp/stanza"
)

const (
	featurePing    = "urn:xmpp:ping"
	featureVersion = "jabber:iq:version"
)

// Название и версия, которые отдаём на jabber:iq:version.
var (
	Name    = "muc-connection-manager"
	Version = "1.dev"
)

// answerQuery отвечает на iq get, адресованные нам: пинг, версия, disco#info. На остальное - service-unavailable.
func (m *Manager) answerQuery(v xmpp.IQ) {
	var (
		q   SimpleIqGetQuery
		err error
	)

	if err = xml.Unmarshal(v.Query, &q); err != nil {
		log.Infof("Does not look like parsable IQ get from %s: %s", v.From, err)
		log.Info(spew.Sdump(v))
		m.answerError(v, stanza.BadRequest)

		return
	}

	switch q.XMLName.Space {
	// Запрос номера версии приложения
	case featureVersion:
		log.Infof("Got IQ get request for version from %s", v.From)

		_, err = m.Talk.IqVersionResponse(v, Name, Version, runtime.GOOS)

	// Нам прислали попингуй
	case featurePing:
		log.Infof("Got IQ get request for pong from %s", v.From)

		_, err = m.Talk.RawInformation(v.To, v.From, v.ID, xmpp.IQTypeResult, "")

	// Запрос на список поддерживаемых фич
	case disco.NSInfo:
		log.Infof("Got IQ get disco#info request from %s", v.From)

		err = m.send(wire.IQ{ //nolint:exhaustruct
			ID:   v.ID,
			To:   v.From,
			Type: wire.IQResult,
			DiscoInfo: &wire.DiscoInfo{ //nolint:exhaustruct
				Node: q.Node,
				Identities: []wire.Identity{
					{Category: "client", Type: "bot", Name: Name},
				},
				Features: []wire.Feature{
					{Var: disco.NSInfo},
					{Var: featurePing},
					{Var: featureVersion},
					{Var: muc.NS},
				},
			},
		})

	// Запрашивают что-то, о чём мы не имеем представления
	default:
		log.Infof("Got an unknown IQ get request %s from %s, answer service unavailable", q.XMLName.Space, v.From)
		log.Debug(spew.Sdump(v))
		m.answerError(v, stanza.ServiceUnavailable)

		return
	}

	if err != nil {
		m.GTomb.Kill(fmt.Errorf("unable to answer iq id=%s to %s: %w", v.ID, v.From, err))
	}
}

// answerError отвечает на iq ошибкой с условием cond.
func (m *Manager) answerError(v xmpp.IQ, cond stanza.Condition) {
	errType := string(stanza.Cancel)

	if cond == stanza.BadRequest {
		errType = string(stanza.Modify)
	}

	err := m.send(wire.IQ{ //nolint:exhaustruct
		ID:    v.ID,
		To:    v.From,
		Type:  wire.IQError,
		Error: &wire.Error{Type: errType, Condition: cond}, //nolint:exhaustruct
	})

	if err != nil {
		m.GTomb.Kill(fmt.Errorf("unable to send iq error id=%s to %s: %w", v.ID, v.From, err))
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
