package room

import (
	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/wire"

	"golang.org/x/exp/slices"
)

// addMember добавляет участника. Ссылку на хэндл вызывающий уже взял, теперь она принадлежит составу.
func (r *Room) addMember(h handles.Handle, full string) {
	r.members[h] = full
	r.occupant[full] = h
}

// removeMember убирает участника из состава, не отпуская хэндлы: их отпускают после уведомления.
func (r *Room) removeMember(h handles.Handle) (owner handles.Handle) {
	if full, ok := r.members[h]; ok {
		delete(r.occupant, full)
		delete(r.members, h)
	}

	owner = r.ownerOf[h]
	delete(r.ownerOf, h)

	return owner
}

// setOwner запоминает реальный jid участника, если комната его показывает.
func (r *Room) setOwner(h handles.Handle, item *wire.Item) {
	if item == nil || item.JID == "" {
		return
	}

	owner, err := r.deps.Handles.Ensure(item.JID)

	if err != nil {
		r.log.Debugf("Ignoring bad real jid %q: %s", item.JID, err)

		return
	}

	if prev, ok := r.ownerOf[h]; ok {
		r.releaseHandle(prev)
	}

	r.ownerOf[h] = owner

	if h != r.self.handle && !r.ownersVisible {
		r.ownersVisible = true

		if r.state == StateJoined {
			r.updateCapabilities()
		}
	}
}

func (r *Room) releaseHandle(h handles.Handle) {
	if h != handles.None {
		r.deps.Handles.Release(h)
	}
}

// actorHandle заводит хэндл того, кто выкинул или забанил участника. Хэндл надо отпустить после уведомления.
func (r *Room) actorHandle(item *wire.Item) handles.Handle {
	if item == nil || item.Actor == nil {
		return handles.None
	}

	actor := item.Actor.JID

	if actor == "" && item.Actor.Nick != "" {
		full, err := occupantJID(r.room, item.Actor.Nick)

		if err != nil {
			return handles.None
		}

		actor = full
	}

	if actor == "" {
		return handles.None
	}

	h, err := r.deps.Handles.Ensure(actor)

	if err != nil {
		return handles.None
	}

	return h
}

func removalMessage(p *wire.Presence) string {
	if item := p.User.Item(); item != nil && item.Reason != "" {
		return item.Reason
	}

	return p.Status
}

// onOccupantPresence обрабатывает presence другого участника в установившемся состоянии.
func (r *Room) onOccupantPresence(p wire.Presence) {
	h, known := r.occupant[p.From]

	if p.Type == wire.PresenceUnavailable {
		if !known {
			return
		}

		reason := ReasonFromStatus(p.User)

		// Смена ника: старый участник уходит без причины, новый придёт следующим presence.
		if p.User.HasStatus(wire.StatusNickChanged) {
			reason = reasonNone
		}

		actor := r.actorHandle(p.User.Item())
		owner := r.removeMember(h)

		r.log.Debugf("Occupant %s left (%s)", p.From, reason)

		r.deps.Observer.MembersChanged(MembersChange{ //nolint:exhaustruct
			Removed: []handles.Handle{h},
			Actor:   actor,
			Reason:  reason,
			Message: removalMessage(&p),
		})

		r.releaseHandle(actor)
		r.releaseHandle(owner)
		r.releaseHandle(h)

		return
	}

	if known {
		r.setOwner(h, p.User.Item())

		return
	}

	h, err := r.deps.Handles.Ensure(p.From)

	if err != nil {
		r.log.Debugf("Ignoring occupant %s: %s", p.From, err)

		return
	}

	r.addMember(h, p.From)
	r.setOwner(h, p.User.Item())
	r.log.Debugf("Occupant %s joined", p.From)

	r.deps.Observer.MembersChanged(MembersChange{Added: []handles.Handle{h}}) //nolint:exhaustruct
}

// onSelfPresence обрабатывает наш собственный presence в состоянии Joined.
func (r *Room) onSelfPresence(p wire.Presence) {
	item := p.User.Item()

	if p.Type != wire.PresenceUnavailable {
		if item != nil && !r.closing {
			r.updatePermissions(item.RoleValue(), item.AffiliationValue())
		}

		return
	}

	if p.User.HasStatus(wire.StatusNickChanged) && item != nil && item.Nick != "" {
		r.renameSelf(item.Nick)

		return
	}

	if r.closing {
		r.log.Info("Left room")
		r.destroy(reasonNone, nil)

		return
	}

	reason := ReasonFromStatus(p.User)
	actor := r.actorHandle(item)
	msg := removalMessage(&p)

	r.log.Warnf("Removed from room (%s): %s", reason, msg)

	r.deps.Observer.MembersChanged(MembersChange{ //nolint:exhaustruct
		Removed: []handles.Handle{r.self.handle},
		Actor:   actor,
		Reason:  reason,
		Message: msg,
	})

	r.destroy(reason, departureError(reason, "removed from room"))
	r.releaseHandle(actor)
}

// renameSelf переносит нас под новый ник, назначенный сервером: членство и реальный jid переезжают на новый хэндл.
func (r *Room) renameSelf(nick string) {
	next, err := r.newIdentity(nick)

	if err != nil {
		r.log.Warnf("Unable to follow nick change to %q: %s", nick, err)

		return
	}

	prev := r.self

	r.deps.Handles.Ref(next.handle)

	owner := r.removeMember(prev.handle)

	r.addMember(next.handle, next.jid)

	if owner != handles.None {
		r.ownerOf[next.handle] = owner
	}

	r.self = next
	r.log.Infof("Our nick changed to %s", next.nick)

	r.deps.Observer.MembersChanged(MembersChange{ //nolint:exhaustruct
		Added:   []handles.Handle{next.handle},
		Removed: []handles.Handle{prev.handle},
	})

	r.notifyProperties(PropSelfHandle)

	// Одна ссылка принадлежала составу, другая - самому нику.
	r.releaseHandle(prev.handle)
	r.releaseHandle(prev.handle)
}

// Members возвращает хэндлы участников в порядке возрастания.
func (r *Room) Members() []handles.Handle {
	out := make([]handles.Handle, 0, len(r.members))

	for h := range r.members {
		out = append(out, h)
	}

	slices.Sort(out)

	return out
}

// OwnerOf возвращает хэндл реального jid участника или handles.None, если он неизвестен.
func (r *Room) OwnerOf(h handles.Handle) handles.Handle {
	return r.ownerOf[h]
}

// IsMember сообщает, находится ли хэндл в составе комнаты.
func (r *Room) IsMember(h handles.Handle) bool {
	_, ok := r.members[h]

	return ok
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
