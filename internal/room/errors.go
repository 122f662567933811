package room

import (
	"errors"
	"fmt"
	"strings"

	"muc-connection-manager/internal/wire"

	"mellium.im/xmpp/stanza"
)

// Классы ошибок. Конкретные ошибки оборачивают один из них, так что errors.Is всегда отвечает, к какому классу
// относится сбой.
var (
	ErrAuthentication = errors.New("password required or incorrect")
	ErrAuthorization  = errors.New("not authorized")
	ErrCapacity       = errors.New("room is full")
	ErrPolicy         = errors.New("not allowed by room policy")
	ErrRetryExhausted = errors.New("retries exhausted")
	ErrCompatibility  = errors.New("server is not compatible")
	ErrTransport      = errors.New("transport failure")
	ErrProtocol       = errors.New("protocol error")
	ErrCancelled      = errors.New("operation cancelled")

	ErrNotJoined       = errors.New("room is not joined")
	ErrBusy            = errors.New("another request is in flight")
	ErrInvalidArgument = errors.New("invalid argument")
)

// StanzaError - ошибка, присланная сервером в ответ на наш запрос.
type StanzaError struct {
	Class error
	Err   *wire.Error
}

func (e *StanzaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Err)
}

// Is относит ошибку к её классу.
func (e *StanzaError) Is(target error) bool {
	return target == e.Class //nolint:errorlint,goerr113
}

func (e *StanzaError) Unwrap() error {
	return e.Err
}

// UnmatchedFieldsError - в форме конфигурации комнаты не нашлось полей для части запрошенных свойств.
type UnmatchedFieldsError struct {
	Fields []string
}

func (e *UnmatchedFieldsError) Error() string {
	return fmt.Sprintf("%s: configuration form has no fields for %s", ErrCompatibility, strings.Join(e.Fields, ", "))
}

// Is относит ошибку к ErrCompatibility.
func (e *UnmatchedFieldsError) Is(target error) bool {
	return target == ErrCompatibility //nolint:errorlint,goerr113
}

// classify сопоставляет условию ошибки класс ошибки.
func classify(cond stanza.Condition) error {
	switch cond { //nolint:exhaustive
	case stanza.NotAuthorized:
		return ErrAuthentication
	case stanza.Forbidden, stanza.NotAllowed:
		return ErrAuthorization
	case stanza.ServiceUnavailable, stanza.ResourceConstraint:
		return ErrCapacity
	case stanza.RegistrationRequired:
		return ErrPolicy
	case stanza.RemoteServerTimeout, stanza.RemoteServerNotFound, stanza.RecipientUnavailable:
		return ErrTransport
	default:
		return ErrProtocol
	}
}

// stanzaError превращает <error/> из станзы в ошибку соответствующего класса.
func stanzaError(e *wire.Error) error {
	if e == nil {
		e = &wire.Error{Condition: stanza.UndefinedCondition} //nolint:exhaustruct
	}

	return &StanzaError{Class: classify(e.Condition), Err: e}
}

// replyError разбирает ответ на iq: ошибку транспорта оставляет как есть, iq type=error превращает в StanzaError.
func replyError(iq *wire.IQ, err error) error {
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return err
		}

		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if iq == nil {
		return fmt.Errorf("%w: empty reply", ErrProtocol)
	}

	if iq.Type == wire.IQError {
		return stanzaError(iq.Error)
	}

	return nil
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
