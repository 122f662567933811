// Package wire описывает XML-формы станз, которыми менеджер обменивается с MUC-сервисом: presence, message и iq
// вместе с расширениями muc#user, muc#owner, muc#admin, disco#info и jabber:x:data.
package wire

import (
	"encoding/xml"
	"fmt"

	"mellium.im/xmpp/disco"
	"mellium.im/xmpp/form"
	"mellium.im/xmpp/muc"
	"mellium.im/xmpp/stanza"
)

// Пространства имён, которые нужны вне тегов структур.
const (
	NSMUC       = muc.NS
	NSMUCUser   = muc.NSUser
	NSMUCOwner  = muc.NSOwner
	NSMUCAdmin  = muc.NSAdmin
	NSDiscoInfo = disco.NSInfo
	NSData      = form.NS
	NSStanzas   = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSDelay     = "urn:xmpp:delay"
	NSRoomInfo  = "http://jabber.org/protocol/muc#roominfo"
	NSRoomConf  = "http://jabber.org/protocol/muc#roomconfig"
)

// Типы станз, в строковом виде, как они лежат в атрибуте type.
const (
	PresenceAvailable   = string(stanza.AvailablePresence)
	PresenceUnavailable = string(stanza.UnavailablePresence)
	PresenceError       = string(stanza.ErrorPresence)

	MessageGroupChat = string(stanza.GroupChatMessage)
	MessageNormal    = string(stanza.NormalMessage)
	MessageError     = string(stanza.ErrorMessage)

	IQGet    = string(stanza.GetIQ)
	IQSet    = string(stanza.SetIQ)
	IQResult = string(stanza.ResultIQ)
	IQError  = string(stanza.ErrorIQ)
)

// Коды статусов MUC (xep-0045, раздел 15.6).
const (
	StatusNonAnonymous      = 100
	StatusConfigChanged     = 104
	StatusSelf              = 110
	StatusNewRoom           = 201
	StatusNickAssigned      = 210
	StatusBanned            = 301
	StatusNickChanged       = 303
	StatusKicked            = 307
	StatusAffiliationChange = 321
	StatusMembersOnly       = 322
	StatusShutdown          = 332
)

// Element - произвольный дочерний элемент станзы, который мы переносим как есть (например, метаданные предложений
// звонков и туннелей в финальном presence).
type Element struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   string     `xml:",innerxml"`
}

// Marshal сериализует станзу в строку, пригодную для отправки в поток.
func Marshal(v interface{}) (string, error) {
	buf, err := xml.Marshal(v)

	if err != nil {
		return "", fmt.Errorf("unable to marshal stanza: %w", err)
	}

	return string(buf), nil
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
