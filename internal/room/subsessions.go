package room

import (
	"muc-connection-manager/internal/handles"
	"muc-connection-manager/internal/wire"

	"golang.org/x/exp/slices"
)

// SubSession - вложенная сессия комнаты (звонок, туннель). Она знает только хэндл своей комнаты, а комната - только
// её идентификатор.
type SubSession interface {
	ID() string
	Kind() string

	// Offer - метаданные предложения, которые надо повторить в финальном presence при выходе. nil, если нечего.
	Offer() *wire.Element
}

// SubSessions ищет вложенную сессию по идентификатору.
type SubSessions interface {
	Lookup(id string) (SubSession, bool)
}

type subSessionEntry struct {
	s    SubSession
	room handles.Handle
}

// SubSessionTable - реестр вложенных сессий менеджера. Как и комнаты, используется только из горутины цикла.
type SubSessionTable struct {
	entries map[string]subSessionEntry
}

// NewSubSessionTable создаёт пустой реестр.
func NewSubSessionTable() *SubSessionTable {
	return &SubSessionTable{entries: make(map[string]subSessionEntry)}
}

// Register добавляет вложенную сессию, принадлежащую комнате room. Повторная регистрация заменяет запись.
func (t *SubSessionTable) Register(s SubSession, room handles.Handle) {
	t.entries[s.ID()] = subSessionEntry{s: s, room: room}
}

// Unregister удаляет вложенную сессию и возвращает хэндл её комнаты.
func (t *SubSessionTable) Unregister(id string) (handles.Handle, bool) {
	e, ok := t.entries[id]

	if !ok {
		return handles.None, false
	}

	delete(t.entries, id)

	return e.room, true
}

// Lookup реализует SubSessions.
func (t *SubSessionTable) Lookup(id string) (SubSession, bool) {
	e, ok := t.entries[id]

	if !ok {
		return nil, false
	}

	return e.s, true
}

// ForRoom возвращает идентификаторы вложенных сессий комнаты в порядке возрастания.
func (t *SubSessionTable) ForRoom(room handles.Handle) []string {
	var ids []string

	for id, e := range t.entries {
		if e.room == room {
			ids = append(ids, id)
		}
	}

	slices.Sort(ids)

	return ids
}

// DropRoom удаляет все вложенные сессии комнаты и возвращает их идентификаторы.
func (t *SubSessionTable) DropRoom(room handles.Handle) []string {
	ids := t.ForRoom(room)

	for _, id := range ids {
		delete(t.entries, id)
	}

	return ids
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
