package room

import (
	"fmt"

	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/wire"

	"github.com/google/uuid"
)

// subjectRequest - выполняющийся SetSubject. id - идентификатор отправленного message, по нему сопоставляем
// отражение темы и ошибку.
type subjectRequest struct {
	id   string
	text string
	done func(error)
}

// SetSubject меняет тему комнаты. done вызывается, когда сервер разошлёт новую тему или вернёт ошибку.
func (r *Room) SetSubject(text string, done func(error)) error {
	if r.state != StateJoined || r.closing {
		return ErrNotJoined
	}

	if r.pendingSubject != nil {
		return ErrBusy
	}

	if done == nil {
		done = func(error) {}
	}

	req := &subjectRequest{id: uuid.NewString(), text: text, done: done}
	r.pendingSubject = req

	m := wire.Message{ //nolint:exhaustruct
		ID:      req.id,
		To:      r.room,
		Type:    wire.MessageGroupChat,
		Subject: &text,
	}

	if err := r.deps.Transport.SendMessage(m); err != nil {
		r.finishSubject(req, fmt.Errorf("%w: unable to send subject: %w", ErrTransport, err))
		r.fetchProperties()
	}

	return nil
}

func (r *Room) finishSubject(req *subjectRequest, err error) {
	if r.pendingSubject != req {
		return
	}

	r.pendingSubject = nil

	if err != nil {
		r.log.Warnf("Subject change failed: %s", err)
	}

	req.done(err)
}

func (r *Room) onMessage(m wire.Message) {
	bare, _, err := splitJID(m.From)

	if err != nil || bare != r.room {
		r.log.Debugf("Ignoring message from %q", m.From)

		return
	}

	from, _ := canonical(m.From)
	m.From = from

	if m.Type == wire.MessageError {
		req := r.pendingSubject

		if req != nil && r.matchSubjectError(&m, req) {
			r.finishSubject(req, stanzaError(m.Error))
			r.fetchProperties()

			return
		}

		r.log.Debugf("Ignoring message error with id %q", m.ID)

		return
	}

	// Код 104: конфигурация комнаты изменилась, перечитываем свойства.
	if m.User.HasStatus(wire.StatusConfigChanged) {
		r.fetchProperties()
	}

	if r.state != StateJoined || !m.IsSubjectChange() {
		return
	}

	r.applySubject(&m)
}

// matchSubjectError решает, относится ли ошибка к запросу req. Без id ошибку от самой комнаты считаем нашей, если она
// повторяет отправленную тему или темы в ней нет вовсе.
func (r *Room) matchSubjectError(m *wire.Message, req *subjectRequest) bool {
	if m.ID != "" {
		return m.ID == req.id
	}

	if m.From != r.room {
		return false
	}

	return m.Subject == nil || *m.Subject == req.text
}

// applySubject запоминает тему из сообщения и завершает ожидающий SetSubject, если это его отражение.
func (r *Room) applySubject(m *wire.Message) {
	actor, err := r.deps.Handles.Ensure(m.From)

	if err != nil {
		actor = handles.None
	}

	ts, ok := m.Delay.Time()

	if !ok {
		ts = r.opts.Now()
	}

	r.releaseHandle(r.subjectActor)

	r.subject = *m.Subject
	r.subjectActor = actor
	r.subjectTimestamp = ts

	r.log.Debugf("Subject set by %s: %q", m.From, r.subject)
	r.notifyProperties(PropSubject, PropSubjectActor, PropSubjectTimestamp)

	req := r.pendingSubject

	if req == nil || r.state == StateEnded {
		return
	}

	switch {
	case m.ID != "" && m.ID == req.id:
		r.finishSubject(req, nil)
	case m.ID == "" && m.From == r.self.jid && r.subject == req.text:
		r.finishSubject(req, nil)
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
