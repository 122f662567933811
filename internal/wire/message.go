package wire

import (
	"encoding/xml"
	"time"
)

// Message - message-станза. Subject - указатель, потому что пустой <subject/> означает сброс темы, а его отсутствие -
// обычное сообщение.
type Message struct {
	XMLName xml.Name `xml:"message"`
	ID      string   `xml:"id,attr,omitempty"`
	From    string   `xml:"from,attr,omitempty"`
	To      string   `xml:"to,attr,omitempty"`
	Type    string   `xml:"type,attr,omitempty"`
	Subject *string  `xml:"subject"`
	Body    string   `xml:"body,omitempty"`
	Delay   *Delay   `xml:"urn:xmpp:delay delay,omitempty"`
	User    *User    `xml:"http://jabber.org/protocol/muc#user x,omitempty"`
	Error   *Error   `xml:"error,omitempty"`
}

// Delay - отметка xep-0203 о задержанной доставке.
type Delay struct {
	From  string `xml:"from,attr,omitempty"`
	Stamp string `xml:"stamp,attr"`
}

// IsSubjectChange сообщает, является ли сообщение сменой темы: есть <subject/>, но нет <body/>.
func (m *Message) IsSubjectChange() bool {
	return m.Subject != nil && m.Body == ""
}

// Time разбирает штамп задержки.
func (d *Delay) Time() (time.Time, bool) {
	if d == nil || d.Stamp == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339, d.Stamp)

	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
