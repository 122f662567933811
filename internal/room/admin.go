package room

import (
	"fmt"

	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/wire"

	"mellium.im/xmpp/muc"
)

// track запоминает колбэк запроса, чтобы при разрушении сессии завершить его с ErrCancelled.
func (r *Room) track(done func(error)) int {
	if done == nil {
		done = func(error) {}
	}

	r.callSeq++
	r.calls[r.callSeq] = done

	return r.callSeq
}

// resolve завершает запрос, если он ещё не завершён.
func (r *Room) resolve(id int, err error) {
	done, ok := r.calls[id]

	if !ok {
		return
	}

	delete(r.calls, id)
	done(err)
}

func (r *Room) checkModerator() error {
	if r.state != StateJoined || r.closing {
		return ErrNotJoined
	}

	if !r.caps.CanRemove {
		return fmt.Errorf("%w: moderator role required", ErrAuthorization)
	}

	return nil
}

// Kick выгоняет участника из комнаты (role=none). Нужна роль модератора.
func (r *Room) Kick(h handles.Handle, reason string, done func(error)) error {
	if err := r.checkModerator(); err != nil {
		return err
	}

	full, ok := r.members[h]

	if !ok || h == r.self.handle {
		return fmt.Errorf("%w: handle %d is not an occupant", ErrInvalidArgument, h)
	}

	_, nick, err := splitJID(full)

	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	item := wire.Item{Nick: nick, Role: muc.RoleNone.String(), Reason: reason} //nolint:exhaustruct

	return r.sendAdmin(item, done)
}

// Ban банит участника (affiliation=outcast) по его реальному jid, поэтому работает только в комнатах, которые
// реальные jid показывают.
func (r *Room) Ban(h handles.Handle, reason string, done func(error)) error {
	if err := r.checkModerator(); err != nil {
		return err
	}

	if _, ok := r.members[h]; !ok || h == r.self.handle {
		return fmt.Errorf("%w: handle %d is not an occupant", ErrInvalidArgument, h)
	}

	owner, ok := r.ownerOf[h]

	if !ok {
		return fmt.Errorf("%w: real jid of handle %d is unknown", ErrInvalidArgument, h)
	}

	realJID, ok := r.deps.Handles.Inspect(owner)

	if !ok {
		return fmt.Errorf("%w: real jid of handle %d is unknown", ErrInvalidArgument, h)
	}

	bare, _, err := splitJID(realJID)

	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	item := wire.Item{JID: bare, Affiliation: muc.AffiliationOutcast.String(), Reason: reason} //nolint:exhaustruct

	return r.sendAdmin(item, done)
}

func (r *Room) sendAdmin(item wire.Item, done func(error)) error {
	id := r.track(done)

	iq := wire.IQ{ //nolint:exhaustruct
		To:    r.room,
		Type:  wire.IQSet,
		Admin: &wire.AdminQuery{Items: []wire.Item{item}},
	}

	err := r.deps.Transport.SendIQ(iq, func(reply *wire.IQ, err error) {
		if err := replyError(reply, err); err != nil {
			r.log.Warnf("Admin request for %s%s failed: %s", item.Nick, item.JID, err)
			r.resolve(id, err)

			return
		}

		r.resolve(id, nil)
	})

	if err != nil {
		r.resolve(id, fmt.Errorf("%w: unable to send admin request: %w", ErrTransport, err))
	}

	return nil
}

// Invite отправляет приглашение через комнату (mediated invitation). Ответа у приглашения нет.
func (r *Room) Invite(to, reason string) error {
	if r.state != StateJoined || r.closing {
		return ErrNotJoined
	}

	target, err := canonical(to)

	if err != nil {
		return fmt.Errorf("%w: invitee %q: %w", ErrInvalidArgument, to, err)
	}

	m := wire.Message{ //nolint:exhaustruct
		To: r.room,
		User: &wire.User{ //nolint:exhaustruct
			Invites: []wire.Invite{{To: target, Reason: reason}}, //nolint:exhaustruct
		},
	}

	if err := r.deps.Transport.SendMessage(m); err != nil {
		return fmt.Errorf("%w: unable to send invite: %w", ErrTransport, err)
	}

	r.log.Infof("Invited %s", target)

	return nil
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
