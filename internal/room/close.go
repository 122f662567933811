package room

import (
	"fmt"
	"time"

	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/wire"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
	"mellium.im/xmpp/muc"
)

// CloseMode - способ закрытия комнаты.
type CloseMode int

const (
	// CloseGraceful - выйти, когда отсоединятся все вложенные сессии. До тех пор комната скрыта от клиента.
	CloseGraceful CloseMode = iota

	// CloseImmediate - отправить unavailable и сразу разрушить сессию, не дожидаясь эха.
	CloseImmediate

	// CloseDisconnected - транспорт уже потерян, ничего не отправляем.
	CloseDisconnected
)

func (m CloseMode) String() string {
	switch m {
	case CloseGraceful:
		return "graceful"
	case CloseImmediate:
		return "immediate"
	case CloseDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Leave выходит из комнаты. Если вход ещё не подтверждён, сессия разрушается сразу и без обмена с сервером. Иначе
// отправляется unavailable и сессия ждёт эха или таймера выхода.
func (r *Room) Leave(message string) error {
	switch r.state {
	case StateEnded:
		return ErrNotJoined

	case StateCreated, StateInitiated, StateAuth:
		r.log.Infof("Leaving room before join completed (state %s)", r.state)
		r.destroy(reasonNone, fmt.Errorf("%w: left before join completed", ErrCancelled))

		return nil

	case StateJoined:
	}

	if r.closing {
		return nil
	}

	r.closing = true
	r.stopPoll()
	r.updateCapabilities()

	r.log.Infof("Leaving room: %q", message)

	if err := r.deps.Transport.SendPresence(r.leavePresence(message)); err != nil {
		r.destroy(reasonNone, fmt.Errorf("%w: unable to send leave presence: %w", ErrTransport, err))

		return nil
	}

	r.leaveTimer = r.deps.Scheduler.AfterFunc(r.opts.LeaveTimeout, func() { r.Dispatch(leaveTimeout{}) })

	return nil
}

// leavePresence строит финальный presence: причина и предложения вложенных сессий, чтобы остальные участники видели
// согласованное последнее состояние.
func (r *Room) leavePresence(message string) wire.Presence {
	p := wire.Presence{ //nolint:exhaustruct
		ID:     uuid.NewString(),
		To:     r.self.jid,
		Type:   wire.PresenceUnavailable,
		Status: message,
	}

	if r.deps.SubSessions == nil {
		return p
	}

	for _, id := range r.subs {
		s, ok := r.deps.SubSessions.Lookup(id)

		if !ok {
			continue
		}

		if offer := s.Offer(); offer != nil {
			p.Extra = append(p.Extra, *offer)
		}
	}

	return p
}

func (r *Room) onLeaveTimeout() {
	if !r.closing {
		return
	}

	r.log.Warnf("No leave echo within %s, dropping room anyway", r.opts.LeaveTimeout)
	r.destroy(reasonNone, nil)
}

// Close закрывает комнату выбранным способом.
func (r *Room) Close(mode CloseMode) error {
	if r.state == StateEnded {
		return ErrNotJoined
	}

	switch mode {
	case CloseGraceful:
		if r.state == StateJoined && len(r.subs) > 0 {
			r.autoclose = true

			if !r.hidden {
				r.hidden = true
				r.log.Infof("Close deferred until %d sub-sessions detach", len(r.subs))
				r.deps.Observer.Hidden()
			}

			return nil
		}

		return r.Leave("")

	case CloseImmediate:
		if r.state == StateJoined && !r.closing {
			if err := r.deps.Transport.SendPresence(r.leavePresence("")); err != nil {
				r.log.Debugf("Unable to send leave presence: %s", err)
			}
		}

		r.destroy(reasonNone, nil)

		return nil

	case CloseDisconnected:
		r.closeDisconnected(nil)

		return nil

	default:
		return fmt.Errorf("%w: unknown close mode %s", ErrInvalidArgument, mode)
	}
}

// closeDisconnected разрушает сессию после потери транспорта.
func (r *Room) closeDisconnected(err error) {
	cause := fmt.Errorf("%w: connection lost", ErrTransport)

	if err != nil {
		cause = fmt.Errorf("%w: connection lost: %w", ErrTransport, err)
	}

	r.destroy(reasonNone, cause)
}

// AttachSubSession привязывает вложенную сессию к комнате.
func (r *Room) AttachSubSession(id string) error {
	if r.state == StateEnded {
		return ErrNotJoined
	}

	if id == "" {
		return fmt.Errorf("%w: empty sub-session id", ErrInvalidArgument)
	}

	if !slices.Contains(r.subs, id) {
		r.subs = append(r.subs, id)
	}

	return nil
}

// DetachSubSession отвязывает вложенную сессию. Если закрытие было отложено и это была последняя, комната выходит.
func (r *Room) DetachSubSession(id string) {
	i := slices.Index(r.subs, id)

	if i < 0 {
		return
	}

	r.subs = slices.Delete(r.subs, i, i+1)

	if r.autoclose && len(r.subs) == 0 && r.state != StateEnded {
		r.log.Info("Last sub-session detached, completing deferred close")

		if err := r.Leave(""); err != nil {
			r.log.Debugf("Deferred close: %s", err)
		}
	}
}

// SubSessionIDs возвращает идентификаторы привязанных вложенных сессий.
func (r *Room) SubSessionIDs() []string {
	return slices.Clone(r.subs)
}

// Hidden сообщает, скрыта ли комната из-за отложенного закрытия.
func (r *Room) Hidden() bool { return r.hidden }

// Closing сообщает, что выход начат и сессия ждёт эха.
func (r *Room) Closing() bool { return r.closing }

// destroy - единственный путь в Ended. Завершает все ожидающие запросы, отпускает хэндлы и один раз уведомляет
// наблюдателя.
func (r *Room) destroy(reason Reason, cause error) {
	if r.state == StateEnded {
		return
	}

	r.setState(StateEnded)

	stopTimer(&r.joinTimer)
	stopTimer(&r.leaveTimer)
	stopTimer(&r.pollTimer)

	cancelled := fmt.Errorf("%w: room closed", ErrCancelled)

	if done := r.pendingJoin; done != nil {
		r.pendingJoin = nil

		if cause != nil {
			done(cause)
		} else {
			done(cancelled)
		}
	}

	if done := r.pendingPassword; done != nil {
		r.pendingPassword = nil
		done(false)
	}

	if req := r.pendingSubject; req != nil {
		r.finishSubject(req, cancelled)
	}

	if req := r.pendingConfig; req != nil {
		r.finishConfig(req, cancelled)
	}

	ids := make([]int, 0, len(r.calls))

	for id := range r.calls {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	for _, id := range ids {
		r.resolve(id, cancelled)
	}

	r.releaseAll()

	r.caps = Capabilities{} //nolint:exhaustruct
	r.role = muc.RoleNone
	r.affiliation = muc.AffiliationNone

	r.log.Infof("Room closed (%s)", reason)
	r.deps.Observer.Closed(reason, cause)
}

// releaseAll отпускает все хэндлы, которые держит сессия.
func (r *Room) releaseAll() {
	for h := range r.members {
		r.releaseHandle(h)
	}

	for _, owner := range r.ownerOf {
		r.releaseHandle(owner)
	}

	r.members = make(map[handles.Handle]string)
	r.occupant = make(map[string]handles.Handle)
	r.ownerOf = make(map[handles.Handle]handles.Handle)
	r.joining = nil

	r.releaseHandle(r.self.handle)
	r.releaseHandle(r.subjectActor)
	r.releaseHandle(r.roomHandle)

	r.subjectActor = handles.None
}

// Snapshot - состояние комнаты на момент вызова.
type Snapshot struct {
	Room                string
	State               State
	SelfJID             string
	SelfHandle          handles.Handle
	Role                muc.Role
	Affiliation         muc.Affiliation
	MustProvidePassword bool
	Members             []string
	Subject             string
	SubjectActor        string
	SubjectTimestamp    time.Time
	Config              RoomConfig
	Capabilities        Capabilities
	Closing             bool
	Hidden              bool
}

// Snapshot собирает состояние комнаты с jid вместо хэндлов.
func (r *Room) Snapshot() Snapshot {
	s := Snapshot{
		Room:                r.room,
		State:               r.state,
		SelfJID:             r.self.jid,
		SelfHandle:          r.self.handle,
		Role:                r.role,
		Affiliation:         r.affiliation,
		MustProvidePassword: r.mustProvidePassword,
		Members:             make([]string, 0, len(r.members)),
		Subject:             r.subject,
		SubjectActor:        "",
		SubjectTimestamp:    r.subjectTimestamp,
		Config:              r.Config(),
		Capabilities:        r.caps,
		Closing:             r.closing,
		Hidden:              r.hidden,
	}

	for _, full := range r.members {
		s.Members = append(s.Members, full)
	}

	slices.Sort(s.Members)

	if actor, ok := r.deps.Handles.Inspect(r.subjectActor); ok && r.subjectActor != handles.None {
		s.SubjectActor = actor
	}

	return s
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
