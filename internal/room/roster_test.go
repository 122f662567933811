package room

import (
	"errors"
	"testing"

	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/wire"

	"github.com/davecgh/go-spew/spew"
)

func TestUnexpectedKick(t *testing.T) {
	h := newHarness(t, nil)
	h.joinAs("participant", "member", "alice")

	h.room.Dispatch(unavailable(testNick, withStatus(wire.StatusKicked, wire.StatusSelf), withActor("alice", "spam")))

	if h.room.State() != StateEnded {
		t.Fatalf("wrong state: want=%s, got=%s", StateEnded, h.room.State())
	}

	last := h.obs.changes[len(h.obs.changes)-1]

	if len(last.removed) != 1 || last.removed[0] != nickJID(testNick) {
		t.Errorf("self must be removed: %s", spew.Sdump(last))
	}

	if last.Reason.Code != ReasonKicked || last.actorJID != nickJID("alice") || last.Message != "spam" {
		t.Errorf("wrong removal details: %s", spew.Sdump(last))
	}

	if len(h.obs.closed) != 1 {
		t.Fatalf("closed: want=1, got=%d", len(h.obs.closed))
	}

	if c := h.obs.closed[0]; c.reason.Code != ReasonKicked || !errors.Is(c.err, ErrAuthorization) {
		t.Errorf("wrong close: %s", spew.Sdump(c))
	}

	if h.reg.Len() != 0 {
		t.Errorf("handles leaked: %d", h.reg.Len())
	}
}

func TestRoomShutdown(t *testing.T) {
	h := newHarness(t, nil)
	h.joinAs("participant", "member")

	h.room.Dispatch(unavailable(testNick, withStatus(wire.StatusShutdown, wire.StatusSelf)))

	if len(h.obs.closed) != 1 {
		t.Fatalf("closed: want=1, got=%d", len(h.obs.closed))
	}

	c := h.obs.closed[0]

	if c.reason.Detail != KickShutdown || !errors.Is(c.err, ErrTransport) {
		t.Errorf("wrong close: %s", spew.Sdump(c))
	}
}

func TestOccupantJoinAndLeave(t *testing.T) {
	h := newHarness(t, nil)
	h.joinAs("participant", "member", "alice")

	h.room.Dispatch(available("carol"))

	carol := h.handleOf("carol")

	if !h.room.IsMember(carol) {
		t.Fatal("carol is not a member")
	}

	if last := h.obs.changes[len(h.obs.changes)-1]; len(last.added) != 1 || last.added[0] != nickJID("carol") {
		t.Errorf("wrong change: %s", spew.Sdump(last))
	}

	if h.room.OwnerOf(carol) != handles.None {
		t.Error("carol has no visible real jid")
	}

	// Повторный presence с реальным jid только обновляет владельца.
	n := len(h.obs.changes)
	h.room.Dispatch(available("carol", withItem("participant", "none", "carol@example.org/x")))

	if len(h.obs.changes) != n {
		t.Error("presence update must not change membership")
	}

	if owner, _ := h.reg.Inspect(h.room.OwnerOf(carol)); owner != "carol@example.org/x" {
		t.Errorf("wrong owner: %q", owner)
	}

	h.room.Dispatch(unavailable("carol", withStatus(wire.StatusBanned), withActor(testNick, "")))

	last := h.obs.changes[len(h.obs.changes)-1]

	if len(last.removed) != 1 || last.removed[0] != nickJID("carol") || last.Reason.Code != ReasonBanned {
		t.Errorf("wrong removal: %s", spew.Sdump(last))
	}

	if last.actorJID != nickJID(testNick) {
		t.Errorf("wrong actor: want=%s, got=%s", nickJID(testNick), last.actorJID)
	}

	if _, ok := h.reg.Lookup(nickJID("carol")); ok {
		t.Error("carol's handle was not released")
	}

	if _, ok := h.reg.Lookup("carol@example.org/x"); ok {
		t.Error("carol's owner handle was not released")
	}

	// Уход неизвестного участника ничего не меняет.
	n = len(h.obs.changes)
	h.room.Dispatch(unavailable("nobody"))

	if len(h.obs.changes) != n {
		t.Error("unknown occupant departure was published")
	}
}

func TestOccupantNickChange(t *testing.T) {
	h := newHarness(t, nil)
	h.joinAs("participant", "member", "alice")

	h.room.Dispatch(unavailable("alice", withStatus(wire.StatusNickChanged), withNewNick("alicia")))
	h.room.Dispatch(available("alicia"))

	changes := h.obs.changes[len(h.obs.changes)-2:]

	if len(changes[0].removed) != 1 || changes[0].Reason.Code != ReasonNone {
		t.Errorf("old nick must leave without reason: %s", spew.Sdump(changes[0]))
	}

	if len(changes[1].added) != 1 || changes[1].added[0] != nickJID("alicia") {
		t.Errorf("new nick must join: %s", spew.Sdump(changes[1]))
	}
}

func TestSelfNickChange(t *testing.T) {
	h := newHarness(t, nil)
	h.joinAs("participant", "member")

	prev := h.room.SelfHandle()

	h.room.Dispatch(unavailable(testNick, withStatus(wire.StatusSelf, wire.StatusNickChanged), withNewNick("robert")))

	if h.room.State() != StateJoined {
		t.Fatalf("nick change must not end the session, state %s", h.room.State())
	}

	if h.room.SelfJID() != nickJID("robert") || h.room.SelfHandle() == prev {
		t.Errorf("self not renamed: %s", h.room.SelfJID())
	}

	if !h.room.IsMember(h.room.SelfHandle()) || h.room.IsMember(prev) {
		t.Errorf("membership not moved: %v", h.room.Members())
	}

	if owner, _ := h.reg.Inspect(h.room.OwnerOf(h.room.SelfHandle())); owner != testReal {
		t.Errorf("owner lost on rename: %q", owner)
	}

	if _, ok := h.reg.Inspect(prev); ok {
		t.Error("previous self handle leaked")
	}

	if !h.obs.sawProperty(PropSelfHandle) {
		t.Error("self-handle change was not announced")
	}

	// Эхо с новым ником - обычное обновление нашего presence.
	h.room.Dispatch(available("robert", withItem("participant", "member", testReal), withStatus(wire.StatusSelf)))

	if h.room.State() != StateJoined {
		t.Errorf("wrong state %s", h.room.State())
	}
}

func TestOwnersKnown(t *testing.T) {
	h := newHarness(t, nil)
	h.joinAs("participant", "member")

	if h.room.Capabilities().OwnersKnown {
		t.Error("owners cannot be known in an empty room")
	}

	h.room.Dispatch(available("alice", withItem("participant", "none", "alice@example.org/r")))

	if !h.room.Capabilities().OwnersKnown {
		t.Error("real jid of another occupant must make owners known")
	}

	last := h.obs.caps[len(h.obs.caps)-1]

	if !last.OwnersKnown || !last.CanAdd {
		t.Errorf("wrong capabilities: %s", spew.Sdump(last))
	}
}

func TestPermissions(t *testing.T) {
	h := newHarness(t, nil)
	h.joinAs("participant", "member")

	if c := h.room.Capabilities(); !c.CanAdd || c.CanRemove {
		t.Errorf("participant capabilities: %s", spew.Sdump(c))
	}

	if h.obs.sawProperty(PropCanUpdateConfiguration) {
		t.Error("member cannot update configuration")
	}

	h.room.Dispatch(available(testNick, withItem("moderator", "member", testReal), withStatus(wire.StatusSelf)))

	if !h.room.CanRemove() {
		t.Error("moderator must be able to remove")
	}

	h.room.Dispatch(available(testNick, withItem("moderator", "owner", testReal), withStatus(wire.StatusSelf)))

	if !h.obs.sawProperty(PropCanUpdateConfiguration) || !h.room.Config().CanUpdateConfiguration {
		t.Error("owner must be able to update configuration")
	}

	probe := h.tr.takeIQ(t, isOwnerGet)

	if h.room.Config().Mutable[PropDescription] {
		t.Error("description must stay immutable until the form shows it")
	}

	if !h.room.Config().Mutable[PropTitle] {
		t.Error("title must be mutable for owner")
	}

	probe.fail("forbidden")

	if h.room.Config().Mutable[PropDescription] {
		t.Error("failed probe must not grant mutability")
	}

	h.room.Dispatch(available(testNick, withItem("participant", "member", testReal), withStatus(wire.StatusSelf)))

	if h.room.CanRemove() || h.room.Config().CanUpdateConfiguration || h.room.Config().Mutable[PropTitle] {
		t.Error("demotion must revoke permissions")
	}
}

func TestDescriptionProbe(t *testing.T) {
	tests := []struct {
		field   string
		mutable bool
	}{
		{fieldRoomDesc, true},
		{"description", true},
		{fieldRoomName, false},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			h := newHarness(t, nil)
			h.joinAs("moderator", "owner")

			h.tr.takeIQ(t, isOwnerGet).result(func(iq *wire.IQ) {
				iq.Owner = &wire.OwnerQuery{Form: &wire.Form{ //nolint:exhaustruct
					Type:   "form",
					Fields: []wire.Field{{Var: tt.field}}, //nolint:exhaustruct
				}}
			})

			if got := h.room.Config().Mutable[PropDescription]; got != tt.mutable {
				t.Errorf("want=%t, got=%t", tt.mutable, got)
			}
		})
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
