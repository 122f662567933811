package jabber

import (
	"encoding/xml"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"muc-connection-manager/internal/config"
	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/loop"
	"muc-connection-manager/internal/room"
	"muc-connection-manager/internal/wire"

	"github.com/eleksir/go-xmpp"
	"gopkg.in/tomb.v2"
)

var (
	// ErrNotConnected - соединения с сервером сейчас нет, вызов фасада выполнить негде.
	ErrNotConnected = errors.New("not connected to jabber server")

	// ErrNoRoom - комнаты с таким jid-ом нет.
	ErrNoRoom = errors.New("no such room")

	// ErrRoomExists - сессия для комнаты уже есть.
	ErrRoomExists = errors.New("room session already exists")

	// ErrPasswordRequired - комната ждёт пароль, его надо передать через ProvidePassword.
	ErrPasswordRequired = errors.New("room requires password")
)

// Client - то, что менеджеру нужно от клиента go-xmpp. *xmpp.Client ему удовлетворяет.
type Client interface {
	Recv() (interface{}, error)
	SendOrg(org string) (int, error)
	SendKeepAlive() (int, error)
	PingC2S(jid, server string) error
	IqVersionResponse(v xmpp.IQ, name, version, os string) (string, error)
	RawInformation(from, to, id, iqType, body string) (string, error)
	JID() string
	Close() error
}

// Manager - менеджер соединения: держит клиента go-xmpp, цикл событий и сессии комнат.
type Manager struct {
	// C - конфиг, как он распарсился из конфиг-файла.
	C *config.Config

	// Опции подключения к xmpp-серверу.
	Options *xmpp.Options

	// Dial устанавливает соединение. По умолчанию - Options.NewClient().
	Dial func(o *xmpp.Options) (Client, error)

	// GTomb пул горутин текущего соединения, на каждое соединение свой.
	GTomb *tomb.Tomb

	// Talk клиент текущего соединения.
	Talk Client

	// Handles - реестр хэндлов. Переживает переподключения, трогается только из цикла.
	Handles *handles.Registry

	// SubSessions - вложенные сессии комнат.
	SubSessions *room.SubSessionTable

	// Канал, по котором приходят сообщения о том, что ОС отправила некие сигналы процессу.
	SigChan chan os.Signal

	// Индикатор того, что процесс завершается.
	Shutdown atomic.Bool

	// mu защищает lp и loopDone, остальное состояние живёт в горутине цикла.
	mu       sync.Mutex
	lp       *loop.Loop
	loopDone chan struct{}

	sched loop.Scheduler
	now   func() time.Time

	rooms  map[string]*session
	iqs    map[string]*pendingIQ
	discos map[string][]string

	// Capabilities сервера из ответа на disco#info.
	ServerCaps map[string]bool

	// ServerCapsQueried показывает, ответил ли сервер на disco#info.
	ServerCapsQueried bool

	// Время последней активности сервера.
	LastServerActivity int64

	// Время, когда был отправлен c2s ping.
	ServerPingTimestampTx int64

	// Время, когда был принят s2c pong.
	ServerPingTimestampRx int64

	keepaliveTimer loop.Timer
}

// session - комната и всё, что менеджер про неё помнит.
type session struct {
	room *room.Room

	// channel - комната из конфига, nil для комнат, в которые вошли через фасад.
	channel *config.Channel

	ready bool

	// Ожидающие вызовы фасада.
	onPasswordRequired func()
	onClosed           []func(error)
}

// pendingIQ - отправленный iq, ждущий ответа.
type pendingIQ struct {
	id    string
	to    string
	disco bool
	reply func(*wire.IQ, error)
	timer loop.Timer
}

// SimpleIqGetQuery прототип структурки для определения пространства имён входящего iq-запроса.
type SimpleIqGetQuery struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
	Node    string `xml:"node,attr,omitempty"`
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
