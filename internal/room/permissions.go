package room

import (
	"muc-connection-manager/internal/wire"

	"mellium.im/xmpp/muc"
)

// updatePermissions применяет нашу роль и принадлежность из собственного presence.
func (r *Room) updatePermissions(role muc.Role, affiliation muc.Affiliation) {
	prevAffiliation := r.affiliation

	if role != r.role || affiliation != r.affiliation {
		r.log.Debugf("Our role %s, affiliation %s", role, affiliation)
	}

	r.role = role
	r.affiliation = affiliation

	r.updateCapabilities()

	canUpdate := affiliation == muc.AffiliationOwner

	if canUpdate != r.config.CanUpdateConfiguration {
		r.config.CanUpdateConfiguration = canUpdate
		r.resetMutability()
		r.notifyProperties(PropCanUpdateConfiguration, PropMutableProperties)
	}

	if canUpdate && prevAffiliation != muc.AffiliationOwner {
		r.probeDescription()
	}
}

// updateCapabilities пересчитывает локальные возможности и сообщает об изменении.
func (r *Room) updateCapabilities() {
	joined := r.state == StateJoined && !r.closing

	next := Capabilities{
		CanAdd:      joined,
		CanRemove:   joined && r.role == muc.RoleModerator,
		OwnersKnown: r.ownersVisible,
	}

	if next == r.caps {
		return
	}

	r.caps = next
	r.deps.Observer.CapabilitiesChanged(next)
}

// resetMutability выставляет изменяемость свойств по флагу CanUpdateConfiguration. Описание считается
// изменяемым, только если форма конфигурации этой комнаты его содержит.
func (r *Room) resetMutability() {
	for _, p := range configProperties {
		r.config.Mutable[p] = r.config.CanUpdateConfiguration
	}

	r.config.Mutable[PropDescription] = r.config.CanUpdateConfiguration && r.descriptionWritable
}

// probeDescription запрашивает форму конфигурации только затем, чтобы узнать, есть ли в ней поле описания.
// Результат может только добавить изменяемость, ошибки игнорируются.
func (r *Room) probeDescription() {
	iq := wire.IQ{ //nolint:exhaustruct
		To:    r.room,
		Type:  wire.IQGet,
		Owner: &wire.OwnerQuery{}, //nolint:exhaustruct
	}

	err := r.deps.Transport.SendIQ(iq, func(reply *wire.IQ, err error) {
		if r.state == StateEnded || replyError(reply, err) != nil || reply.Owner == nil {
			return
		}

		if !hasDescriptionField(reply.Owner.Form) {
			return
		}

		r.log.Debug("Room configuration form has a description field")
		r.descriptionWritable = true

		if r.config.CanUpdateConfiguration && !r.config.Mutable[PropDescription] {
			r.config.Mutable[PropDescription] = true
			r.notifyProperties(PropMutableProperties)
		}
	})

	if err != nil {
		r.log.Debugf("Unable to probe room configuration form: %s", err)
	}
}

// hasDescriptionField ищет поле описания под любым из известных имён.
func hasDescriptionField(f *wire.Form) bool {
	if f == nil {
		return false
	}

	for _, fl := range f.Fields {
		if cf, ok := fieldByName(fl.Var); ok && cf.prop == PropDescription {
			return true
		}
	}

	return false
}

// CanRemove сообщает, можем ли мы выгонять участников.
func (r *Room) CanRemove() bool {
	return r.caps.CanRemove
}

// Capabilities возвращает текущие локальные возможности.
func (r *Room) Capabilities() Capabilities {
	return r.caps
}

// Role возвращает нашу роль.
func (r *Room) Role() muc.Role { return r.role }

// Affiliation возвращает нашу принадлежность.
func (r *Room) Affiliation() muc.Affiliation { return r.affiliation }

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
