package wire

import (
	"encoding/xml"
	"fmt"
)

// IQ - iq-станза с теми запросами, которые использует сессия комнаты.
type IQ struct {
	XMLName   xml.Name    `xml:"iq"`
	ID        string      `xml:"id,attr,omitempty"`
	From      string      `xml:"from,attr,omitempty"`
	To        string      `xml:"to,attr,omitempty"`
	Type      string      `xml:"type,attr"`
	DiscoInfo *DiscoInfo  `xml:"http://jabber.org/protocol/disco#info query,omitempty"`
	Owner     *OwnerQuery `xml:"http://jabber.org/protocol/muc#owner query,omitempty"`
	Admin     *AdminQuery `xml:"http://jabber.org/protocol/muc#admin query,omitempty"`
	Error     *Error      `xml:"error,omitempty"`
}

// DiscoInfo - <query xmlns='http://jabber.org/protocol/disco#info'/>.
type DiscoInfo struct {
	Node       string     `xml:"node,attr,omitempty"`
	Identities []Identity `xml:"identity"`
	Features   []Feature  `xml:"feature"`
	Forms      []Form     `xml:"jabber:x:data x"`
}

// Identity - identity из disco#info.
type Identity struct {
	Category string `xml:"category,attr"`
	Type     string `xml:"type,attr"`
	Name     string `xml:"name,attr,omitempty"`
}

// Feature - фича из disco#info.
type Feature struct {
	Var string `xml:"var,attr"`
}

// OwnerQuery - <query xmlns='http://jabber.org/protocol/muc#owner'/>.
type OwnerQuery struct {
	Form *Form `xml:"jabber:x:data x,omitempty"`
}

// AdminQuery - <query xmlns='http://jabber.org/protocol/muc#admin'/>.
type AdminQuery struct {
	Items []Item `xml:"item"`
}

// HasFeature проверяет наличие фичи.
func (d *DiscoInfo) HasFeature(name string) bool {
	if d == nil {
		return false
	}

	for _, f := range d.Features {
		if f.Var == name {
			return true
		}
	}

	return false
}

// UnmarshalIQ собирает IQ из атрибутов и сырого содержимого, которое транспорт отдаёт без обёртки <iq/>.
func UnmarshalIQ(id, from, to, typ string, inner []byte) (IQ, error) {
	iq := IQ{ID: id, From: from, To: to, Type: typ}
	raw := append(append([]byte("<iq>"), inner...), []byte("</iq>")...)

	if err := xml.Unmarshal(raw, &iq); err != nil {
		return iq, fmt.Errorf("unable to parse iq payload id=%s: %w", id, err)
	}

	// Атрибуты из обёртки пустые, вернём их на место.
	iq.ID, iq.From, iq.To, iq.Type = id, from, to, typ

	return iq, nil
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
