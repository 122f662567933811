package wire

import (
	"encoding/xml"
	"strconv"

	"mellium.im/xmpp/stanza"
)

// Error - элемент <error/> внутри станзы.
type Error struct {
	Type      string
	By        string
	Code      int
	Condition stanza.Condition
	Text      string
}

// Старые серверы до сих пор присылают только числовой code, без условия из urn:ietf:params:xml:ns:xmpp-stanzas.
var legacyCodes = map[int]stanza.Condition{
	400: stanza.BadRequest,
	401: stanza.NotAuthorized,
	403: stanza.Forbidden,
	404: stanza.ItemNotFound,
	405: stanza.NotAllowed,
	406: stanza.NotAcceptable,
	407: stanza.RegistrationRequired,
	409: stanza.Conflict,
	500: stanza.InternalServerError,
	503: stanza.ServiceUnavailable,
	504: stanza.RemoteServerTimeout,
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	if e.Text != "" {
		return string(e.Condition) + ": " + e.Text
	}

	return string(e.Condition)
}

// UnmarshalXML разбирает <error/>, вытаскивая из дочерних элементов условие и текст.
func (e *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "type":
			e.Type = attr.Value
		case "by":
			e.By = attr.Value
		case "code":
			e.Code, _ = strconv.Atoi(attr.Value)
		}
	}

	for {
		tok, err := d.Token()

		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "text" {
				if err := d.DecodeElement(&e.Text, &t); err != nil {
					return err
				}

				continue
			}

			// Бывают ещё и application-specific условия в чужих неймспейсах, их пропускаем.
			if e.Condition == "" && (t.Name.Space == NSStanzas || t.Name.Space == "") {
				e.Condition = stanza.Condition(t.Name.Local)
			}

			if err := d.Skip(); err != nil {
				return err
			}

		case xml.EndElement:
			if e.Condition == "" {
				if cond, ok := legacyCodes[e.Code]; ok {
					e.Condition = cond
				} else {
					e.Condition = stanza.UndefinedCondition
				}
			}

			return nil
		}
	}
}

// MarshalXML пишет <error/> в каноническом виде.
func (e Error) MarshalXML(enc *xml.Encoder, start xml.StartElement) error {
	start = xml.StartElement{Name: xml.Name{Local: "error"}}

	if e.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: e.Type})
	}

	if e.By != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "by"}, Value: e.By})
	}

	cond := e.Condition

	if cond == "" {
		cond = stanza.UndefinedCondition
	}

	condEl := xml.StartElement{Name: xml.Name{Space: NSStanzas, Local: string(cond)}}
	tokens := []xml.Token{start, condEl, condEl.End()}

	if e.Text != "" {
		textEl := xml.StartElement{Name: xml.Name{Space: NSStanzas, Local: "text"}}
		tokens = append(tokens, textEl, xml.CharData(e.Text), textEl.End())
	}

	tokens = append(tokens, start.End())

	for _, t := range tokens {
		if err := enc.EncodeToken(t); err != nil {
			return err
		}
	}

	return enc.Flush()
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
