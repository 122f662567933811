package room

import (
	"muc-connection-manager/internal/wire"
)

// Event - событие для Dispatch.
type Event interface {
	isEvent()
}

// PresenceReceived - presence от комнаты или её участника.
type PresenceReceived struct {
	Presence wire.Presence
}

// MessageReceived - message от комнаты или её участника.
type MessageReceived struct {
	Message wire.Message
}

// TransportLost - соединение с сервером потеряно, комнату надо закрыть немедленно.
type TransportLost struct {
	Err error
}

type joinTimeout struct{}

type leaveTimeout struct{}

type pollTick struct{}

func (PresenceReceived) isEvent() {}
func (MessageReceived) isEvent()  {}
func (TransportLost) isEvent()    {}
func (joinTimeout) isEvent()      {}
func (leaveTimeout) isEvent()     {}
func (pollTick) isEvent()         {}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
