package jabber

import (
	"strings"
	"testing"

	"muc-connection-manager/internal/wire"

	"github.com/davecgh/go-spew/spew"
	"github.com/eleksir/go-xmpp"
	"mellium.im/xmpp/disco"
	"mellium.im/xmpp/muc"
	"mellium.im/xmpp/stanza"
)

const testPeer = "alice@example.org/phone"

func query(id, typ, inner string) xmpp.IQ {
	return xmpp.IQ{ //nolint:exhaustruct
		ID:    id,
		From:  testPeer,
		To:    testSelf,
		Type:  typ,
		Query: []byte(inner),
	}
}

func TestAnswerPing(t *testing.T) {
	m, fake, _ := newTestManager(t, testConfig())

	m.ParseEvent(query("p1", xmpp.IQTypeGet, `<ping xmlns='urn:xmpp:ping'/>`))

	want := strings.Join([]string{testSelf, testPeer, "p1", xmpp.IQTypeResult, ""}, "|")

	if len(fake.raw) != 1 || fake.raw[0] != want {
		t.Errorf("want=%s, got=%v", want, fake.raw)
	}
}

func TestAnswerVersion(t *testing.T) {
	m, fake, _ := newTestManager(t, testConfig())

	m.ParseEvent(query("v1", xmpp.IQTypeGet, `<query xmlns='jabber:iq:version'/>`))

	if len(fake.versions) != 1 || fake.versions[0].ID != "v1" {
		t.Errorf("want version reply, got %s", spew.Sdump(fake.versions))
	}
}

func TestAnswerDiscoInfo(t *testing.T) {
	m, fake, _ := newTestManager(t, testConfig())

	m.ParseEvent(query("d1", xmpp.IQTypeGet, `<query xmlns='http://jabber.org/protocol/disco#info'/>`))

	iqs := fake.sentIQs()

	if len(iqs) != 1 {
		t.Fatalf("want one reply, got %d", len(iqs))
	}

	reply := iqs[0]

	if reply.ID != "d1" || reply.To != testPeer || reply.Type != wire.IQResult || reply.DiscoInfo == nil {
		t.Fatalf("wrong reply: %s", spew.Sdump(reply))
	}

	for _, f := range []string{disco.NSInfo, featurePing, featureVersion, muc.NS} {
		if !reply.DiscoInfo.HasFeature(f) {
			t.Errorf("feature %s not announced", f)
		}
	}

	if len(reply.DiscoInfo.Identities) != 1 || reply.DiscoInfo.Identities[0].Category != "client" {
		t.Errorf("wrong identity: %s", spew.Sdump(reply.DiscoInfo.Identities))
	}
}

func TestAnswerErrors(t *testing.T) {
	tests := []struct {
		name    string
		iq      xmpp.IQ
		errType string
		cond    stanza.Condition
	}{
		{
			"unknown namespace",
			query("u1", xmpp.IQTypeGet, `<query xmlns='jabber:iq:last'/>`),
			string(stanza.Cancel),
			stanza.ServiceUnavailable,
		},
		{
			"unparsable",
			query("u2", xmpp.IQTypeGet, ``),
			string(stanza.Modify),
			stanza.BadRequest,
		},
		{
			"set",
			query("u3", xmpp.IQTypeSet, `<query xmlns='jabber:iq:roster'/>`),
			string(stanza.Cancel),
			stanza.ServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, fake, _ := newTestManager(t, testConfig())

			m.ParseEvent(tt.iq)

			iqs := fake.sentIQs()

			if len(iqs) != 1 {
				t.Fatalf("want one reply, got %d", len(iqs))
			}

			reply := iqs[0]

			if reply.ID != tt.iq.ID || reply.To != testPeer || reply.Type != wire.IQError || reply.Error == nil {
				t.Fatalf("wrong reply: %s", spew.Sdump(reply))
			}

			if reply.Error.Type != tt.errType || reply.Error.Condition != tt.cond {
				t.Errorf("want=%s/%s, got=%s/%s", tt.errType, tt.cond, reply.Error.Type, reply.Error.Condition)
			}
		})
	}
}

func TestIQWithoutIDIsDropped(t *testing.T) {
	m, fake, _ := newTestManager(t, testConfig())

	m.ParseEvent(query("", xmpp.IQTypeGet, `<ping xmlns='urn:xmpp:ping'/>`))

	if len(fake.raw) != 0 || len(fake.sentIQs()) != 0 {
		t.Error("iq without id must not be answered")
	}
}

func TestAnswerFailureKillsConnection(t *testing.T) {
	m, fake, _ := newTestManager(t, testConfig())
	fake.failSend = true

	m.ParseEvent(query("d1", xmpp.IQTypeGet, `<query xmlns='http://jabber.org/protocol/disco#info'/>`))

	select {
	case <-m.GTomb.Dying():
	default:
		t.Error("connection must die when a reply can not be sent")
	}
}

func TestStanzasForUnknownRoomsAreIgnored(t *testing.T) {
	m, fake, _ := newTestManager(t, testConfig())

	m.ParseEvent(xmpp.Presence{From: "other@conference.example.org/x", Type: "unavailable"}) //nolint:exhaustruct
	m.ParseEvent(xmpp.Chat{Remote: "other@conference.example.org/x", Type: "groupchat", Text: "hi"})  //nolint:exhaustruct
	m.ParseEvent(struct{ Unknown string }{"event"})

	if len(m.rooms) != 0 || len(fake.sentIQs()) != 0 || len(fake.sentPresences()) != 0 {
		t.Error("stray stanzas must not create state")
	}
}

func TestPresenceToWire(t *testing.T) {
	p := presenceToWire(xmpp.Presence{ //nolint:exhaustruct
		From:        testRoom + "/alice",
		Affiliation: "admin",
		Role:        "moderator",
		JID:         testPeer,
	})

	item := p.User.Item()

	if item == nil || item.Affiliation != "admin" || item.Role != "moderator" || item.JID != testPeer {
		t.Errorf("wrong item: %s", spew.Sdump(p))
	}

	p = presenceToWire(xmpp.Presence{From: testRoom + "/alice", Type: "error"}) //nolint:exhaustruct

	if p.User != nil || p.Error == nil || p.Error.Condition != stanza.UndefinedCondition {
		t.Errorf("wrong error presence: %s", spew.Sdump(p))
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
