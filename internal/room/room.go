// Package room реализует сессию MUC-комнаты: вход с паролем и повторами при конфликте ника, состав участников,
// права, тему, свойства комнаты и протокол закрытия.
//
// Сессия однопоточная. Все методы и Dispatch вызываются из одной горутины (цикла событий менеджера), поэтому
// блокировок внутри нет. Сетевые операции асинхронные: исход сообщается через колбэк done, который тоже
// вызывается в горутине цикла.
package room

import (
	"fmt"
	"time"

	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/loop"
	"muc-connection-manager/internal/wire"

	log "github.com/sirupsen/logrus"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/muc"
)

// State - состояние сессии. Переходы только вперёд, кроме цикла Initiated<->Auth и повторов внутри Initiated.
type State int

const (
	StateCreated State = iota
	StateInitiated
	StateAuth
	StateJoined
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitiated:
		return "initiated"
	case StateAuth:
		return "auth"
	case StateJoined:
		return "joined"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Значения по умолчанию для Options.
const (
	DefaultJoinTimeout              = 60 * time.Second
	DefaultLeaveTimeout             = 5 * time.Second
	DefaultPollInterval             = 300 * time.Second
	DefaultPollIntervalLowBandwidth = 1800 * time.Second
	DefaultMaxNickRetries           = 3
)

// Transport отправляет станзы. Ответ на iq приходит в reply, в горутине цикла; ошибка транспорта (таймаут, обрыв)
// приходит туда же вторым аргументом.
type Transport interface {
	SendPresence(p wire.Presence) error
	SendMessage(m wire.Message) error
	SendIQ(iq wire.IQ, reply func(*wire.IQ, error)) error
}

// Handles - реестр хэндлов со счётчиком ссылок.
type Handles interface {
	Ensure(jid string) (handles.Handle, error)
	Ref(h handles.Handle)
	Release(h handles.Handle)
	Inspect(h handles.Handle) (string, bool)
}

// Observer получает уведомления сессии. Хэндлы в уведомлениях живы только на время вызова, кто хочет их хранить,
// делает Ref.
type Observer interface {
	Ready()
	MembersChanged(c MembersChange)
	PropertiesChanged(props []Property)
	CapabilitiesChanged(c Capabilities)
	Hidden()
	Closed(reason Reason, err error)
}

// MembersChange - изменение состава комнаты в терминах обобщённого контракта групповых чатов.
type MembersChange struct {
	Added         []handles.Handle
	Removed       []handles.Handle
	LocalPending  []handles.Handle
	RemotePending []handles.Handle
	Actor         handles.Handle
	Reason        Reason
	Message       string
}

// Capabilities - локальные возможности по управлению составом.
type Capabilities struct {
	CanAdd      bool
	CanRemove   bool
	OwnersKnown bool
}

// Options - параметры сессии.
type Options struct {
	// Room - bare jid комнаты.
	Room string

	// Nick - ник, с которым входим. При конфликте к нему дописывается "_".
	Nick     string
	Password string

	// RealJID - наш собственный jid, если сервер не сообщит его в presence.
	RealJID string

	JoinTimeout              time.Duration
	LeaveTimeout             time.Duration
	PollInterval             time.Duration
	PollIntervalLowBandwidth time.Duration
	LowBandwidth             bool
	MaxNickRetries           int

	Now func() time.Time
}

// Deps - внешние зависимости сессии.
type Deps struct {
	Transport   Transport
	Handles     Handles
	Scheduler   loop.Scheduler
	Observer    Observer
	SubSessions SubSessions
}

// identity - наш ник в комнате. Меняется только целиком: старый хэндл отпускается, новый заводится в том же
// переходе.
type identity struct {
	jid    string
	nick   string
	handle handles.Handle
}

// Room - сессия одной комнаты.
type Room struct {
	opts Options
	deps Deps
	log  *log.Entry

	room       string
	roomHandle handles.Handle
	self       identity

	state       State
	role        muc.Role
	affiliation muc.Affiliation
	password    string

	mustProvidePassword bool
	pendingPassword     func(bool)
	pendingJoin         func(error)
	nickRetries         int
	readyFired          bool
	newRoom             bool

	// Ростер, накопленный до подтверждения входа.
	joining []wire.Presence

	members       map[handles.Handle]string
	occupant      map[string]handles.Handle
	ownerOf       map[handles.Handle]handles.Handle
	ownersVisible bool
	caps          Capabilities

	subject          string
	subjectActor     handles.Handle
	subjectTimestamp time.Time
	pendingSubject   *subjectRequest

	config              RoomConfig
	descriptionWritable bool
	discoInFlight       bool
	pendingConfig       *configRequest

	calls     map[int]func(error)
	callSeq   int
	subs      []string
	closing   bool
	autoclose bool
	hidden    bool

	joinTimer  loop.Timer
	leaveTimer loop.Timer
	pollTimer  loop.Timer
}

type nopObserver struct{}

func (nopObserver) Ready()                           {}
func (nopObserver) MembersChanged(MembersChange)     {}
func (nopObserver) PropertiesChanged([]Property)     {}
func (nopObserver) CapabilitiesChanged(Capabilities) {}
func (nopObserver) Hidden()                          {}
func (nopObserver) Closed(Reason, error)             {}

// NewRoom создаёт сессию в состоянии Created, сразу заводит хэндл нашего ника и отправляет disco#info комнате.
func NewRoom(opts Options, deps Deps) (*Room, error) {
	if deps.Transport == nil || deps.Handles == nil || deps.Scheduler == nil {
		return nil, fmt.Errorf("%w: transport, handles and scheduler are required", ErrInvalidArgument)
	}

	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	roomJID, err := jid.Parse(opts.Room)

	if err != nil {
		return nil, fmt.Errorf("%w: room %q: %w", ErrInvalidArgument, opts.Room, err)
	}

	if roomJID.Localpart() == "" || roomJID.Resourcepart() != "" {
		return nil, fmt.Errorf("%w: room %q must be a bare jid with a localpart", ErrInvalidArgument, opts.Room)
	}

	if opts.Nick == "" {
		return nil, fmt.Errorf("%w: empty nick", ErrInvalidArgument)
	}

	applyDefaults(&opts)

	r := &Room{ //nolint:exhaustruct
		opts:     opts,
		deps:     deps,
		room:     roomJID.String(),
		password: opts.Password,
		members:  make(map[handles.Handle]string),
		occupant: make(map[string]handles.Handle),
		ownerOf:  make(map[handles.Handle]handles.Handle),
		calls:    make(map[int]func(error)),
		config:   RoomConfig{Mutable: make(map[Property]bool)}, //nolint:exhaustruct
	}

	r.log = log.WithFields(log.Fields{"room": r.room})

	if r.roomHandle, err = deps.Handles.Ensure(r.room); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	self, err := r.newIdentity(opts.Nick)

	if err != nil {
		deps.Handles.Release(r.roomHandle)

		return nil, err
	}

	r.self = self

	r.fetchProperties()

	return r, nil
}

func applyDefaults(opts *Options) {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}

	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = DefaultLeaveTimeout
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	if opts.PollIntervalLowBandwidth <= 0 {
		opts.PollIntervalLowBandwidth = DefaultPollIntervalLowBandwidth
	}

	if opts.MaxNickRetries <= 0 {
		opts.MaxNickRetries = DefaultMaxNickRetries
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}
}

// newIdentity строит jid участника для ника и заводит на него хэндл.
func (r *Room) newIdentity(nick string) (identity, error) {
	full, err := occupantJID(r.room, nick)

	if err != nil {
		return identity{}, fmt.Errorf("%w: nick %q: %w", ErrInvalidArgument, nick, err)
	}

	_, resource, err := splitJID(full)

	if err != nil {
		return identity{}, fmt.Errorf("%w: nick %q: %w", ErrInvalidArgument, nick, err)
	}

	h, err := r.deps.Handles.Ensure(full)

	if err != nil {
		return identity{}, fmt.Errorf("%w: nick %q: %w", ErrInvalidArgument, nick, err)
	}

	return identity{jid: full, nick: resource, handle: h}, nil
}

// replaceSelf меняет наш ник целиком: новый хэндл заводится до того, как отпускается старый.
func (r *Room) replaceSelf(next identity) {
	prev := r.self
	r.self = next
	r.deps.Handles.Release(prev.handle)
}

func occupantJID(room, nick string) (string, error) {
	j, err := jid.Parse(room)

	if err != nil {
		return "", err
	}

	full, err := j.WithResource(nick)

	if err != nil {
		return "", err
	}

	return full.String(), nil
}

// splitJID возвращает канонические bare jid и resource.
func splitJID(s string) (string, string, error) {
	j, err := jid.Parse(s)

	if err != nil {
		return "", "", err
	}

	return j.Bare().String(), j.Resourcepart(), nil
}

func canonical(s string) (string, error) {
	j, err := jid.Parse(s)

	if err != nil {
		return "", err
	}

	return j.String(), nil
}

func (r *Room) setState(s State) {
	if r.state == s {
		return
	}

	r.log.Debugf("State %s -> %s", r.state, s)
	r.state = s
}

// Dispatch - единая точка входа для событий: входящих станз, таймеров и потери транспорта.
func (r *Room) Dispatch(ev Event) {
	if r.state == StateEnded {
		return
	}

	switch e := ev.(type) {
	case PresenceReceived:
		r.onPresence(e.Presence)

	case MessageReceived:
		r.onMessage(e.Message)

	case TransportLost:
		r.closeDisconnected(e.Err)

	case joinTimeout:
		r.onJoinTimeout()

	case leaveTimeout:
		r.onLeaveTimeout()

	case pollTick:
		r.fetchProperties()

	default:
		r.log.Debugf("Unknown event %T", ev)
	}
}

// Room возвращает bare jid комнаты.
func (r *Room) Room() string { return r.room }

// Handle возвращает хэндл комнаты. Его держат вложенные сессии вместо ссылки на саму комнату.
func (r *Room) Handle() handles.Handle { return r.roomHandle }

// State возвращает текущее состояние.
func (r *Room) State() State { return r.state }

// SelfHandle возвращает хэндл нашего ника.
func (r *Room) SelfHandle() handles.Handle { return r.self.handle }

// SelfJID возвращает наш jid в комнате.
func (r *Room) SelfJID() string { return r.self.jid }

// MustProvidePassword сообщает, ждёт ли комната пароль.
func (r *Room) MustProvidePassword() bool { return r.mustProvidePassword }

// Subject возвращает тему, её автора и время установки.
func (r *Room) Subject() (string, handles.Handle, time.Time) {
	return r.subject, r.subjectActor, r.subjectTimestamp
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
