package jabber

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"muc-connection-manager/internal/config"
	"muc-connection-manager/internal/loop"
	"muc-connection-manager/internal/wire"

	"github.com/eleksir/go-xmpp"
	"gopkg.in/tomb.v2"
)

const (
	testServer = "example.org"
	testUser   = "bot@example.org"
	testSelf   = "bot@example.org/manager"
	testRoom   = "room@conference.example.org"
	testNick   = "bot"
)

var (
	errWire   = errors.New("wire is down")
	errClosed = errors.New("use of closed connection")
)

var epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// fakeClient притворяется клиентом go-xmpp: всё, что уходит через SendOrg, разбирается обратно в станзы, входящие
// события тест кладёт в events.
type fakeClient struct {
	mu sync.Mutex

	presences []wire.Presence
	messages  []wire.Message
	iqs       []wire.IQ
	raw       []string
	versions  []xmpp.IQ
	pings     int
	keepalive int
	failSend  bool

	// onSend вызывается на каждую отправленную станзу, в горутине отправителя.
	onSend func(v interface{})

	events    chan interface{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{ //nolint:exhaustruct
		events: make(chan interface{}, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeClient) Recv() (interface{}, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-f.closed:
		return nil, errClosed
	}
}

func (f *fakeClient) SendOrg(org string) (int, error) {
	v, err := decodeStanza(org)

	if err != nil {
		return 0, err
	}

	f.mu.Lock()

	if f.failSend {
		f.mu.Unlock()

		return 0, errWire
	}

	switch s := v.(type) {
	case wire.Presence:
		f.presences = append(f.presences, s)
	case wire.Message:
		f.messages = append(f.messages, s)
	case wire.IQ:
		f.iqs = append(f.iqs, s)
	}

	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(v)
	}

	return len(org), nil
}

func (f *fakeClient) SendKeepAlive() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSend {
		return 0, errWire
	}

	f.keepalive++

	return 1, nil
}

func (f *fakeClient) PingC2S(_, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSend {
		return errWire
	}

	f.pings++

	return nil
}

func (f *fakeClient) IqVersionResponse(v xmpp.IQ, name, version, os string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.versions = append(f.versions, v)

	return fmt.Sprintf("%s %s %s", name, version, os), nil
}

func (f *fakeClient) RawInformation(from, to, id, iqType, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.raw = append(f.raw, strings.Join([]string{from, to, id, iqType, body}, "|"))

	return "", nil
}

func (f *fakeClient) JID() string {
	return testSelf
}

func (f *fakeClient) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })

	return nil
}

func (f *fakeClient) push(ev interface{}) {
	f.events <- ev
}

func (f *fakeClient) sentPresences() []wire.Presence {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]wire.Presence(nil), f.presences...)
}

func (f *fakeClient) sentMessages() []wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]wire.Message(nil), f.messages...)
}

func (f *fakeClient) sentIQs() []wire.IQ {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]wire.IQ(nil), f.iqs...)
}

// lastIQ возвращает последний iq, отправленный на адрес to, для которого match вернул true.
func (f *fakeClient) lastIQ(t *testing.T, to string, match func(iq wire.IQ) bool) wire.IQ {
	t.Helper()

	iqs := f.sentIQs()

	for n := len(iqs) - 1; n >= 0; n-- {
		if iqs[n].To == to && match(iqs[n]) {
			return iqs[n]
		}
	}

	t.Fatalf("no matching iq sent to %s", to)

	return wire.IQ{} //nolint:exhaustruct
}

func isDisco(iq wire.IQ) bool { return iq.Type == wire.IQGet && iq.DiscoInfo != nil }

func isOwnerGet(iq wire.IQ) bool { return iq.Type == wire.IQGet && iq.Owner != nil }

func isOwnerSet(iq wire.IQ) bool { return iq.Type == wire.IQSet && iq.Owner != nil }

// decodeStanza разбирает сериализованную станзу по имени корневого элемента.
func decodeStanza(raw string) (interface{}, error) {
	d := xml.NewDecoder(strings.NewReader(raw))

	for {
		tok, err := d.Token()

		if err != nil {
			return nil, fmt.Errorf("unable to decode %q: %w", raw, err)
		}

		se, ok := tok.(xml.StartElement)

		if !ok {
			continue
		}

		switch se.Name.Local {
		case "presence":
			var p wire.Presence

			err = d.DecodeElement(&p, &se)

			return p, err

		case "message":
			var m wire.Message

			err = d.DecodeElement(&m, &se)

			return m, err

		case "iq":
			var iq wire.IQ

			err = d.DecodeElement(&iq, &se)

			return iq, err

		default:
			return nil, fmt.Errorf("unexpected stanza %s", se.Name.Local)
		}
	}
}

func testConfig() *config.Config {
	return &config.Config{ //nolint:exhaustruct
		Jabber: config.Jabber{ //nolint:exhaustruct
			Server:            testServer,
			Port:              5222,
			User:              testUser,
			Nick:              testNick,
			Resource:          "manager",
			ConnectionTimeout: 10,
			ReconnectDelay:    3,
			ServerPingDelay:   60,
			PingSplayDelay:    0,
			MUC: config.MUC{
				JoinTimeout:              30,
				LeaveTimeout:             5,
				PollInterval:             300,
				PollIntervalLowBandwidth: 1800,
				MaxNickRetries:           3,
			},
			Channels: []config.Channel{{
				Name:    testRoom,
				Nick:    testNick,
				Subject: "Welcome",
				Config:  map[string]interface{}{"title": "Room", "limit": float64(20)},
			}},
		},
	}
}

// newTestManager собирает менеджер с ручным временем, как будто соединение только что установлено.
func newTestManager(t *testing.T, c *config.Config) (*Manager, *fakeClient, *loop.Manual) {
	t.Helper()

	m := New(c)
	m.GTomb = new(tomb.Tomb)

	sched := loop.NewManual(epoch)
	m.now = sched.Now

	fake := newFakeClient()
	m.reset(fake, sched)

	return m, fake, sched
}

// selfPresence - наш собственный presence из комнаты.
func selfPresence(affiliation, role string) xmpp.Presence {
	return xmpp.Presence{ //nolint:exhaustruct
		From:        testRoom + "/" + testNick,
		To:          testSelf,
		Affiliation: affiliation,
		Role:        role,
		JID:         testSelf,
	}
}

// ownerForm - ответ на запрос формы конфигурации, как его отдаёт go-xmpp: содержимое iq без обёртки.
func ownerForm(id string) xmpp.IQ {
	inner := `<query xmlns='http://jabber.org/protocol/muc#owner'>` +
		`<x xmlns='jabber:x:data' type='form'>` +
		`<field var='FORM_TYPE' type='hidden'><value>http://jabber.org/protocol/muc#roomconfig</value></field>` +
		`<field var='muc#roomconfig_roomname' type='text-single'><value>Old</value></field>` +
		`<field var='muc#roomconfig_persistentroom' type='boolean'><value>0</value></field>` +
		`<field var='muc#roomconfig_maxusers' type='list-single'><value>10</value></field>` +
		`</x></query>`

	return xmpp.IQ{ //nolint:exhaustruct
		ID:    id,
		From:  testRoom,
		To:    testSelf,
		Type:  xmpp.IQTypeResult,
		Query: []byte(inner),
	}
}

// joinRoom доводит комнату из конфига до состояния Joined.
func joinRoom(t *testing.T, m *Manager, affiliation, role string) {
	t.Helper()

	if err := m.EstablishConnection(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.ParseEvent(selfPresence(affiliation, role))

	s, ok := m.rooms[testRoom]

	if !ok || !s.ready {
		t.Fatalf("room %s is not ready", testRoom)
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
