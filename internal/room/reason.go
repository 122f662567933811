package room

import (
	"muc-connection-manager/internal/wire"
)

// ReasonCode - причина, по которой участник покинул комнату.
type ReasonCode int

const (
	ReasonNone ReasonCode = iota
	ReasonKicked
	ReasonBanned
)

// KickDetail уточняет, почему участника выкинули.
type KickDetail int

const (
	KickPlain KickDetail = iota
	KickAffiliationChange
	KickRoomPrivatised
	KickShutdown
)

// Reason - причина удаления участника, общая для уведомлений об изменении состава и о закрытии комнаты.
type Reason struct {
	Code   ReasonCode
	Detail KickDetail
}

var reasonNone = Reason{Code: ReasonNone, Detail: KickPlain}

// ReasonFromStatus выводит причину из кодов статуса в presence. Бан важнее кика.
func ReasonFromStatus(u *wire.User) Reason {
	switch {
	case u.HasStatus(wire.StatusBanned):
		return Reason{Code: ReasonBanned, Detail: KickPlain}
	case u.HasStatus(wire.StatusKicked):
		return Reason{Code: ReasonKicked, Detail: KickPlain}
	case u.HasStatus(wire.StatusAffiliationChange):
		return Reason{Code: ReasonKicked, Detail: KickAffiliationChange}
	case u.HasStatus(wire.StatusMembersOnly):
		return Reason{Code: ReasonKicked, Detail: KickRoomPrivatised}
	case u.HasStatus(wire.StatusShutdown):
		return Reason{Code: ReasonKicked, Detail: KickShutdown}
	default:
		return reasonNone
	}
}

func (c ReasonCode) String() string {
	switch c {
	case ReasonKicked:
		return "kicked"
	case ReasonBanned:
		return "banned"
	default:
		return "none"
	}
}

func (d KickDetail) String() string {
	switch d {
	case KickAffiliationChange:
		return "affiliation-change"
	case KickRoomPrivatised:
		return "room-privatised"
	case KickShutdown:
		return "shutdown"
	default:
		return "plain"
	}
}

func (r Reason) String() string {
	if r.Code == ReasonKicked && r.Detail != KickPlain {
		return r.Code.String() + "/" + r.Detail.String()
	}

	return r.Code.String()
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
