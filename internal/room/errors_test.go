package room

import (
	"errors"
	"fmt"
	"testing"

	"muc-connection-manager/internal/wire"

	"mellium.im/xmpp/stanza"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		cond stanza.Condition
		want error
	}{
		{stanza.NotAuthorized, ErrAuthentication},
		{stanza.Forbidden, ErrAuthorization},
		{stanza.NotAllowed, ErrAuthorization},
		{stanza.ServiceUnavailable, ErrCapacity},
		{stanza.ResourceConstraint, ErrCapacity},
		{stanza.RegistrationRequired, ErrPolicy},
		{stanza.RemoteServerTimeout, ErrTransport},
		{stanza.ItemNotFound, ErrProtocol},
		{stanza.UndefinedCondition, ErrProtocol},
	}

	for _, tc := range tests {
		err := stanzaError(&wire.Error{Type: "cancel", Condition: tc.cond}) //nolint:exhaustruct

		if !errors.Is(err, tc.want) {
			t.Errorf("%s: want=%v, got=%v", tc.cond, tc.want, err)
		}
	}

	if err := stanzaError(nil); !errors.Is(err, ErrProtocol) {
		t.Errorf("missing error element: want=%v, got=%v", ErrProtocol, err)
	}
}

func TestReplyError(t *testing.T) {
	if err := replyError(&wire.IQ{Type: wire.IQResult}, nil); err != nil { //nolint:exhaustruct
		t.Errorf("result must not be an error: %v", err)
	}

	if err := replyError(nil, nil); !errors.Is(err, ErrProtocol) {
		t.Errorf("want=%v, got=%v", ErrProtocol, err)
	}

	if err := replyError(nil, errWire); !errors.Is(err, ErrTransport) || !errors.Is(err, errWire) {
		t.Errorf("want=%v, got=%v", ErrTransport, err)
	}

	wrapped := fmt.Errorf("%w: timeout", ErrTransport)

	if err := replyError(nil, wrapped); err != wrapped { //nolint:errorlint
		t.Errorf("transport errors must pass through: %v", err)
	}
}

func TestUnmatchedFieldsError(t *testing.T) {
	err := error(&UnmatchedFieldsError{Fields: []string{"limit", "title"}})

	if !errors.Is(err, ErrCompatibility) {
		t.Error("must be a compatibility error")
	}

	if want := "server is not compatible: configuration form has no fields for limit, title"; err.Error() != want {
		t.Errorf("want=%q, got=%q", want, err.Error())
	}
}

func TestReasonFromStatus(t *testing.T) {
	tests := []struct {
		codes []int
		want  Reason
	}{
		{nil, reasonNone},
		{[]int{wire.StatusSelf}, reasonNone},
		{[]int{wire.StatusBanned}, Reason{ReasonBanned, KickPlain}},
		{[]int{wire.StatusKicked}, Reason{ReasonKicked, KickPlain}},
		{[]int{wire.StatusKicked, wire.StatusBanned}, Reason{ReasonBanned, KickPlain}},
		{[]int{wire.StatusAffiliationChange}, Reason{ReasonKicked, KickAffiliationChange}},
		{[]int{wire.StatusMembersOnly}, Reason{ReasonKicked, KickRoomPrivatised}},
		{[]int{wire.StatusShutdown}, Reason{ReasonKicked, KickShutdown}},
	}

	for _, tc := range tests {
		u := &wire.User{} //nolint:exhaustruct

		for _, c := range tc.codes {
			u.Statuses = append(u.Statuses, wire.Status{Code: c})
		}

		if got := ReasonFromStatus(u); got != tc.want {
			t.Errorf("%v: want=%s, got=%s", tc.codes, tc.want, got)
		}
	}

	if got := ReasonFromStatus(nil); got != reasonNone {
		t.Errorf("nil user: want=%s, got=%s", reasonNone, got)
	}

	if got := (Reason{ReasonKicked, KickShutdown}).String(); got != "kicked/shutdown" {
		t.Errorf("want=%q, got=%q", "kicked/shutdown", got)
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
