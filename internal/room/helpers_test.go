package room

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/loop"
	"muc-connection-manager/internal/wire"

	"mellium.im/xmpp/stanza"
)

const (
	testRoom = "room@conference.example.org"
	testNick = "bob"
	testReal = "bob@example.org/laptop"
)

var errWire = errors.New("wire is down")

var epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type sentIQ struct {
	iq    wire.IQ
	reply func(*wire.IQ, error)
}

// fakeTransport записывает всё отправленное, ответы на iq тест отдаёт сам.
type fakeTransport struct {
	presences []wire.Presence
	messages  []wire.Message
	iqs       []*sentIQ

	failPresence bool
	failMessage  bool
	failIQ       bool
}

func (f *fakeTransport) SendPresence(p wire.Presence) error {
	if f.failPresence {
		return errWire
	}

	f.presences = append(f.presences, p)

	return nil
}

func (f *fakeTransport) SendMessage(m wire.Message) error {
	if f.failMessage {
		return errWire
	}

	f.messages = append(f.messages, m)

	return nil
}

func (f *fakeTransport) SendIQ(iq wire.IQ, reply func(*wire.IQ, error)) error {
	if f.failIQ {
		return errWire
	}

	f.iqs = append(f.iqs, &sentIQ{iq: iq, reply: reply})

	return nil
}

func (f *fakeTransport) lastPresence(t *testing.T) wire.Presence {
	t.Helper()

	if len(f.presences) == 0 {
		t.Fatal("no presence sent")
	}

	return f.presences[len(f.presences)-1]
}

// takeIQ возвращает первый ещё не отвеченный iq, подходящий под match, и помечает его отвеченным.
func (f *fakeTransport) takeIQ(t *testing.T, match func(*wire.IQ) bool) *sentIQ {
	t.Helper()

	for i, s := range f.iqs {
		if match(&s.iq) {
			f.iqs = append(f.iqs[:i:i], f.iqs[i+1:]...)

			return s
		}
	}

	t.Fatal("expected iq was not sent")

	return nil
}

func (f *fakeTransport) countIQ(match func(*wire.IQ) bool) int {
	n := 0

	for _, s := range f.iqs {
		if match(&s.iq) {
			n++
		}
	}

	return n
}

func isDisco(iq *wire.IQ) bool { return iq.Type == wire.IQGet && iq.DiscoInfo != nil }

func isOwnerGet(iq *wire.IQ) bool { return iq.Type == wire.IQGet && iq.Owner != nil }

func isOwnerSet(iq *wire.IQ) bool { return iq.Type == wire.IQSet && iq.Owner != nil }

func isAdminSet(iq *wire.IQ) bool { return iq.Type == wire.IQSet && iq.Admin != nil }

func (s *sentIQ) result(payload func(*wire.IQ)) {
	reply := &wire.IQ{ID: s.iq.ID, From: s.iq.To, Type: wire.IQResult} //nolint:exhaustruct

	if payload != nil {
		payload(reply)
	}

	s.reply(reply, nil)
}

func (s *sentIQ) fail(cond stanza.Condition) {
	s.reply(&wire.IQ{ //nolint:exhaustruct
		ID:    s.iq.ID,
		From:  s.iq.To,
		Type:  wire.IQError,
		Error: &wire.Error{Type: "cancel", Condition: cond}, //nolint:exhaustruct
	}, nil)
}

type change struct {
	MembersChange
	actorJID string
	added    []string
	removed  []string
}

type closeEvent struct {
	reason Reason
	err    error
}

// recorder записывает уведомления. Хэндлы живы только на время вызова, поэтому jid разрешаются сразу.
type recorder struct {
	reg *handles.Registry

	ready   int
	changes []change
	props   []Property
	caps    []Capabilities
	hidden  int
	closed  []closeEvent

	onChange func(MembersChange)
}

func (o *recorder) Ready() { o.ready++ }

func (o *recorder) MembersChanged(c MembersChange) {
	rc := change{MembersChange: c} //nolint:exhaustruct

	rc.actorJID, _ = o.reg.Inspect(c.Actor)

	for _, h := range c.Added {
		j, _ := o.reg.Inspect(h)
		rc.added = append(rc.added, j)
	}

	for _, h := range c.Removed {
		j, _ := o.reg.Inspect(h)
		rc.removed = append(rc.removed, j)
	}

	o.changes = append(o.changes, rc)

	if o.onChange != nil {
		o.onChange(c)
	}
}

func (o *recorder) PropertiesChanged(props []Property) { o.props = append(o.props, props...) }

func (o *recorder) CapabilitiesChanged(c Capabilities) { o.caps = append(o.caps, c) }

func (o *recorder) Hidden() { o.hidden++ }

func (o *recorder) Closed(reason Reason, err error) {
	o.closed = append(o.closed, closeEvent{reason: reason, err: err})
}

func (o *recorder) sawProperty(p Property) bool {
	for _, got := range o.props {
		if got == p {
			return true
		}
	}

	return false
}

type fakeSubSession struct {
	id    string
	offer *wire.Element
}

func (s fakeSubSession) ID() string           { return s.id }
func (s fakeSubSession) Kind() string         { return "call" }
func (s fakeSubSession) Offer() *wire.Element { return s.offer }

type harness struct {
	t     *testing.T
	reg   *handles.Registry
	sched *loop.Manual
	tr    *fakeTransport
	obs   *recorder
	subs  *SubSessionTable
	room  *Room

	joinErr   error
	joinCalls int
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()

	reg := handles.New()
	sched := loop.NewManual(epoch)

	h := &harness{ //nolint:exhaustruct
		t:     t,
		reg:   reg,
		sched: sched,
		tr:    &fakeTransport{},    //nolint:exhaustruct
		obs:   &recorder{reg: reg}, //nolint:exhaustruct
		subs:  NewSubSessionTable(),
	}

	opts := Options{ //nolint:exhaustruct
		Room:    testRoom,
		Nick:    testNick,
		RealJID: testReal,
		Now:     sched.Now,
	}

	if tweak != nil {
		tweak(&opts)
	}

	r, err := NewRoom(opts, Deps{
		Transport:   h.tr,
		Handles:     reg,
		Scheduler:   sched,
		Observer:    h.obs,
		SubSessions: h.subs,
	})

	if err != nil {
		t.Fatalf("unable to create room: %v", err)
	}

	h.room = r

	// Начальный disco#info отвечаем пустым результатом, чтобы он не висел в полёте.
	h.tr.takeIQ(t, isDisco).result(nil)

	return h
}

func (h *harness) join() {
	h.t.Helper()

	err := h.room.Join(func(err error) {
		h.joinCalls++
		h.joinErr = err
	})

	if err != nil {
		h.t.Fatalf("join rejected: %v", err)
	}
}

func nickJID(nick string) string {
	return testRoom + "/" + nick
}

type presenceOpt func(*wire.Presence)

func withItem(role, affiliation, realJID string) presenceOpt {
	return func(p *wire.Presence) {
		ensureUser(p).Items = []wire.Item{{Role: role, Affiliation: affiliation, JID: realJID}} //nolint:exhaustruct
	}
}

func withStatus(codes ...int) presenceOpt {
	return func(p *wire.Presence) {
		u := ensureUser(p)

		for _, c := range codes {
			u.Statuses = append(u.Statuses, wire.Status{Code: c})
		}
	}
}

func withActor(nick, reason string) presenceOpt {
	return func(p *wire.Presence) {
		u := ensureUser(p)

		if len(u.Items) == 0 {
			u.Items = []wire.Item{{Role: "none", Affiliation: "none"}} //nolint:exhaustruct
		}

		u.Items[0].Actor = &wire.Actor{Nick: nick} //nolint:exhaustruct
		u.Items[0].Reason = reason
	}
}

func withNewNick(nick string) presenceOpt {
	return func(p *wire.Presence) {
		u := ensureUser(p)

		if len(u.Items) == 0 {
			u.Items = []wire.Item{{Role: "participant", Affiliation: "none"}} //nolint:exhaustruct
		}

		u.Items[0].Nick = nick
	}
}

func ensureUser(p *wire.Presence) *wire.User {
	if p.User == nil {
		p.User = &wire.User{} //nolint:exhaustruct
	}

	return p.User
}

func available(nick string, opts ...presenceOpt) PresenceReceived {
	p := wire.Presence{From: nickJID(nick)} //nolint:exhaustruct

	for _, o := range opts {
		o(&p)
	}

	return PresenceReceived{Presence: p}
}

func unavailable(nick string, opts ...presenceOpt) PresenceReceived {
	ev := available(nick, opts...)
	ev.Presence.Type = wire.PresenceUnavailable

	return ev
}

func presenceError(nick string, cond stanza.Condition) PresenceReceived {
	return PresenceReceived{Presence: wire.Presence{ //nolint:exhaustruct
		From:  nickJID(nick),
		Type:  wire.PresenceError,
		Error: &wire.Error{Type: "cancel", Condition: cond}, //nolint:exhaustruct
	}}
}

// joinAs проводит вход: ростер из others, затем наш presence с заданными ролью и принадлежностью.
func (h *harness) joinAs(role, affiliation string, others ...string) {
	h.t.Helper()

	h.join()

	for i, nick := range others {
		h.room.Dispatch(available(nick, withItem("participant", "member", nick+"@example.org/r"+strconv.Itoa(i))))
	}

	h.room.Dispatch(available(testNick, withItem(role, affiliation, testReal), withStatus(wire.StatusSelf)))

	if h.room.State() != StateJoined {
		h.t.Fatalf("join did not complete, state %s", h.room.State())
	}
}

func (h *harness) handleOf(nick string) handles.Handle {
	h.t.Helper()

	hd, ok := h.reg.Lookup(nickJID(nick))

	if !ok {
		h.t.Fatalf("no handle for %s", nick)
	}

	return hd
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
