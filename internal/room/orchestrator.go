package room

import (
	"fmt"

	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/loop"
	"muc-connection-manager/internal/wire"

	"github.com/google/uuid"
	"mellium.im/xmpp/muc"
	"mellium.im/xmpp/stanza"
)

// Join отправляет presence входа и ждёт подтверждения. done вызывается ровно один раз: либо когда сервер пришлёт
// наш собственный presence со всем ростером, либо с ошибкой, если вход не удался.
func (r *Room) Join(done func(error)) error {
	if r.state != StateCreated {
		return fmt.Errorf("%w: join already requested, state %s", ErrInvalidArgument, r.state)
	}

	if done == nil {
		done = func(error) {}
	}

	r.pendingJoin = done
	r.setState(StateInitiated)
	r.log.Infof("Joining as %s", r.self.nick)

	if err := r.sendJoin(); err != nil {
		r.fail(reasonNone, fmt.Errorf("%w: unable to send join presence: %w", ErrTransport, err))
	}

	return nil
}

// ProvidePassword повторяет вход с паролем. done(true) - пароль принят и мы в комнате, done(false) - пароль снова
// отвергнут, комната остаётся в ожидании пароля.
func (r *Room) ProvidePassword(password string, done func(bool)) error {
	if r.state != StateAuth {
		return fmt.Errorf("%w: password was not requested, state %s", ErrInvalidArgument, r.state)
	}

	if r.pendingPassword != nil {
		return ErrBusy
	}

	if done == nil {
		done = func(bool) {}
	}

	r.password = password
	r.pendingPassword = done
	r.setState(StateInitiated)

	if err := r.sendJoin(); err != nil {
		r.fail(reasonNone, fmt.Errorf("%w: unable to send join presence: %w", ErrTransport, err))
	}

	return nil
}

// sendJoin отправляет presence входа от текущего ника и заново заводит таймер входа.
func (r *Room) sendJoin() error {
	stopTimer(&r.joinTimer)

	p := wire.Presence{ //nolint:exhaustruct
		ID: uuid.NewString(),
		To: r.self.jid,
		Join: &wire.Join{
			Password: r.password,
			History:  &wire.History{MaxStanzas: 0},
		},
	}

	if err := r.deps.Transport.SendPresence(p); err != nil {
		return err
	}

	r.joinTimer = r.deps.Scheduler.AfterFunc(r.opts.JoinTimeout, func() { r.Dispatch(joinTimeout{}) })

	return nil
}

func stopTimer(t *loop.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (r *Room) onJoinTimeout() {
	if r.state != StateInitiated {
		return
	}

	r.fail(reasonNone, fmt.Errorf("%w: no reply to join within %s", ErrTransport, r.opts.JoinTimeout))
}

// fail - терминальная ошибка: логируем и сносим сессию.
func (r *Room) fail(reason Reason, err error) {
	r.log.Warnf("Room failed in state %s: %s", r.state, err)
	r.destroy(reason, err)
}

func (r *Room) onPresence(p wire.Presence) {
	bare, nick, err := splitJID(p.From)

	if err != nil || bare != r.room {
		r.log.Debugf("Ignoring presence from %q", p.From)

		return
	}

	from, _ := canonical(p.From)
	p.From = from

	switch p.Type {
	case wire.PresenceError:
		r.onPresenceError(nick, p)

		return

	case wire.PresenceAvailable, wire.PresenceUnavailable:

	default:
		r.log.Debugf("Ignoring presence of type %s from %s", p.Type, from)

		return
	}

	switch r.state { //nolint:exhaustive
	case StateInitiated:
		r.onJoiningPresence(nick, p)

	case StateJoined:
		if r.isSelf(&p) {
			r.onSelfPresence(p)
		} else {
			r.onOccupantPresence(p)
		}

	default:
		r.log.Debugf("Ignoring presence from %s in state %s", from, r.state)
	}
}

func (r *Room) isSelf(p *wire.Presence) bool {
	return p.From == r.self.jid || p.User.HasStatus(wire.StatusSelf)
}

// onJoiningPresence копит ростер до прихода нашего собственного presence.
func (r *Room) onJoiningPresence(nick string, p wire.Presence) {
	if r.isSelf(&p) || p.User.HasStatus(wire.StatusNickAssigned) {
		if p.Type == wire.PresenceUnavailable {
			reason := ReasonFromStatus(p.User)
			r.fail(reason, departureError(reason, "removed from room while joining"))

			return
		}

		r.completeJoin(nick, p)

		return
	}

	kept := r.joining[:0]

	for _, op := range r.joining {
		if op.From != p.From {
			kept = append(kept, op)
		}
	}

	r.joining = kept

	if p.Type == wire.PresenceAvailable {
		r.joining = append(r.joining, p)
	}
}

func (r *Room) onPresenceError(nick string, p wire.Presence) {
	cond := stanza.UndefinedCondition

	if p.Error != nil {
		cond = p.Error.Condition
	}

	// Ошибка адресована одной из прошлых попыток входа под другим ником. Некоторые серверы присылают конфликт
	// дважды, второй раз на уже сменённый ник.
	if nick != "" && nick != r.self.nick {
		r.log.Debugf("Ignoring stale presence error %s for nick %s", cond, nick)

		return
	}

	switch r.state { //nolint:exhaustive
	case StateInitiated:
		switch cond { //nolint:exhaustive
		case stanza.Conflict:
			r.onNickConflict()
		case stanza.NotAuthorized:
			r.onAuthRequired()
		default:
			r.fail(reasonNone, stanzaError(p.Error))
		}

	case StateJoined:
		if r.closing {
			r.destroy(reasonNone, nil)

			return
		}

		r.log.Warnf("Got presence error %s, we are not in the room anymore", cond)
		r.deps.Observer.MembersChanged(MembersChange{Removed: []handles.Handle{r.self.handle}}) //nolint:exhaustruct
		r.destroy(reasonNone, stanzaError(p.Error))

	default:
		r.log.Debugf("Ignoring presence error %s in state %s", cond, r.state)
	}
}

// onNickConflict повторяет вход с ником, удлинённым на "_", пока не кончатся попытки.
func (r *Room) onNickConflict() {
	if r.nickRetries >= r.opts.MaxNickRetries {
		r.fail(reasonNone, fmt.Errorf("%w: nick conflict after %d retries", ErrRetryExhausted, r.nickRetries))

		return
	}

	next, err := r.newIdentity(r.self.nick + "_")

	if err != nil {
		r.fail(reasonNone, err)

		return
	}

	r.nickRetries++
	r.replaceSelf(next)
	r.log.Infof("Nick conflict, retry %d as %s", r.nickRetries, next.nick)

	if err := r.sendJoin(); err != nil {
		r.fail(reasonNone, fmt.Errorf("%w: unable to send join presence: %w", ErrTransport, err))

		return
	}

	r.notifyProperties(PropSelfHandle)
}

func (r *Room) onAuthRequired() {
	stopTimer(&r.joinTimer)
	r.setState(StateAuth)
	r.mustProvidePassword = true

	if done := r.pendingPassword; done != nil {
		r.pendingPassword = nil
		r.log.Warn("Room password rejected")
		done(false)

		return
	}

	r.log.Info("Room requires password")
	r.notifyProperties(PropPasswordRequired)
}

// completeJoin публикует накопленный ростер одним изменением состава и переводит сессию в Joined.
func (r *Room) completeJoin(nick string, p wire.Presence) {
	selfChanged := false

	// Сервер мог назначить нам другой ник (статус 210) или нормализовать наш.
	if p.From != r.self.jid {
		next, err := r.newIdentity(nick)

		if err != nil {
			r.fail(reasonNone, err)

			return
		}

		r.log.Infof("Server assigned nick %s", next.nick)
		r.replaceSelf(next)

		selfChanged = true
	}

	stopTimer(&r.joinTimer)

	change := MembersChange{} //nolint:exhaustruct

	for _, op := range r.joining {
		h, err := r.deps.Handles.Ensure(op.From)

		if err != nil {
			r.log.Debugf("Skipping occupant %s: %s", op.From, err)

			continue
		}

		r.addMember(h, op.From)
		r.setOwner(h, op.User.Item())
		change.Added = append(change.Added, h)
	}

	r.joining = nil

	r.deps.Handles.Ref(r.self.handle)
	r.addMember(r.self.handle, r.self.jid)
	change.Added = append(change.Added, r.self.handle)

	item := p.User.Item()

	switch {
	case item != nil && item.JID != "":
		r.setOwner(r.self.handle, item)
	case r.opts.RealJID != "":
		r.setOwner(r.self.handle, &wire.Item{JID: r.opts.RealJID}) //nolint:exhaustruct
	}

	r.mustProvidePassword = false
	r.newRoom = p.User.HasStatus(wire.StatusNewRoom)

	r.setState(StateJoined)
	r.startPoll()
	r.log.Infof("Joined as %s with %d occupants", r.self.nick, len(r.members))

	r.deps.Observer.MembersChanged(change)

	if r.state != StateJoined {
		return
	}

	r.updatePermissions(item.RoleValue(), item.AffiliationValue())

	if selfChanged {
		r.notifyProperties(PropSelfHandle)
	}

	if done := r.pendingPassword; done != nil {
		r.pendingPassword = nil
		done(true)
	}

	if done := r.pendingJoin; done != nil {
		r.pendingJoin = nil
		done(nil)
	}

	if !r.readyFired && r.state == StateJoined {
		r.readyFired = true
		r.deps.Observer.Ready()
	}

	if r.newRoom && r.state == StateJoined && r.affiliation == muc.AffiliationOwner {
		r.submitInstantRoom()
	}
}

// departureError - ошибка для уведомления о закрытии, когда нас удалили из комнаты.
func departureError(reason Reason, msg string) error {
	switch {
	case reason.Code == ReasonKicked && reason.Detail == KickShutdown:
		return fmt.Errorf("%w: %s (%s)", ErrTransport, msg, reason)
	case reason.Code != ReasonNone:
		return fmt.Errorf("%w: %s (%s)", ErrAuthorization, msg, reason)
	default:
		return fmt.Errorf("%w: %s", ErrProtocol, msg)
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
