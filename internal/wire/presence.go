package wire

import (
	"encoding/xml"

	"mellium.im/xmpp/muc"
)

// Presence - presence-станза с MUC-расширениями.
type Presence struct {
	XMLName xml.Name  `xml:"presence"`
	ID      string    `xml:"id,attr,omitempty"`
	From    string    `xml:"from,attr,omitempty"`
	To      string    `xml:"to,attr,omitempty"`
	Type    string    `xml:"type,attr,omitempty"`
	Show    string    `xml:"show,omitempty"`
	Status  string    `xml:"status,omitempty"`
	Join    *Join     `xml:"http://jabber.org/protocol/muc x,omitempty"`
	User    *User     `xml:"http://jabber.org/protocol/muc#user x,omitempty"`
	Error   *Error    `xml:"error,omitempty"`
	Extra   []Element `xml:",any"`
}

// Join - <x xmlns='http://jabber.org/protocol/muc'/>, которым мы входим в комнату.
type Join struct {
	Password string   `xml:"password,omitempty"`
	History  *History `xml:"history,omitempty"`
}

// History ограничивает историю, которую сервер присылает при входе.
type History struct {
	MaxStanzas int `xml:"maxstanzas,attr"`
}

// User - <x xmlns='http://jabber.org/protocol/muc#user'/>.
type User struct {
	Items    []Item   `xml:"item"`
	Statuses []Status `xml:"status"`
	Invites  []Invite `xml:"invite,omitempty"`
	Password string   `xml:"password,omitempty"`
}

// Item описывает участника: его роль, принадлежность, реальный jid и ник.
type Item struct {
	Affiliation string `xml:"affiliation,attr,omitempty"`
	Role        string `xml:"role,attr,omitempty"`
	JID         string `xml:"jid,attr,omitempty"`
	Nick        string `xml:"nick,attr,omitempty"`
	Actor       *Actor `xml:"actor,omitempty"`
	Reason      string `xml:"reason,omitempty"`
}

// Actor - тот, кто совершил действие над участником (кикнул, забанил).
type Actor struct {
	JID  string `xml:"jid,attr,omitempty"`
	Nick string `xml:"nick,attr,omitempty"`
}

// Status - код статуса.
type Status struct {
	Code int `xml:"code,attr"`
}

// Invite - опосредованное приглашение, xep-0045 7.8.2.
type Invite struct {
	To     string `xml:"to,attr,omitempty"`
	From   string `xml:"from,attr,omitempty"`
	Reason string `xml:"reason,omitempty"`
}

// HasStatus сообщает, есть ли среди статусов заданный код.
func (u *User) HasStatus(code int) bool {
	if u == nil {
		return false
	}

	for _, s := range u.Statuses {
		if s.Code == code {
			return true
		}
	}

	return false
}

// Item возвращает первый item или nil.
func (u *User) Item() *Item {
	if u == nil || len(u.Items) == 0 {
		return nil
	}

	return &u.Items[0]
}

// RoleValue переводит строковую роль в muc.Role. Неизвестное значение считается none.
func (i *Item) RoleValue() muc.Role {
	if i == nil {
		return muc.RoleNone
	}

	switch i.Role {
	case muc.RoleModerator.String():
		return muc.RoleModerator
	case muc.RoleParticipant.String():
		return muc.RoleParticipant
	case muc.RoleVisitor.String():
		return muc.RoleVisitor
	default:
		return muc.RoleNone
	}
}

// AffiliationValue переводит строковую принадлежность в muc.Affiliation. Неизвестное значение считается none.
func (i *Item) AffiliationValue() muc.Affiliation {
	if i == nil {
		return muc.AffiliationNone
	}

	switch i.Affiliation {
	case muc.AffiliationOwner.String():
		return muc.AffiliationOwner
	case muc.AffiliationAdmin.String():
		return muc.AffiliationAdmin
	case muc.AffiliationMember.String():
		return muc.AffiliationMember
	case muc.AffiliationOutcast.String():
		return muc.AffiliationOutcast
	default:
		return muc.AffiliationNone
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
