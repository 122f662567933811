// Package handles сопоставляет jid-ам стабильные целочисленные хэндлы со счётчиком ссылок.
//
// Реестр не защищён мьютексом: им владеет цикл событий менеджера, и все обращения к нему идут из одной горутины.
package handles

import (
	"fmt"

	"mellium.im/xmpp/jid"
)

// Handle - процесс-локальный псевдоним jid-а. Нулевой хэндл никогда не выдаётся и означает "неизвестно".
type Handle uint32

// None - отсутствующий хэндл.
const None Handle = 0

type entry struct {
	jid  string
	refs int
}

// Registry - реестр хэндлов.
type Registry struct {
	byJID   map[string]Handle
	entries map[Handle]*entry
	next    Handle
}

// New создаёт пустой реестр.
func New() *Registry {
	return &Registry{
		byJID:   make(map[string]Handle),
		entries: make(map[Handle]*entry),
		next:    1,
	}
}

// Normalize приводит jid к каноническому виду.
func Normalize(s string) (string, error) {
	j, err := jid.Parse(s)

	if err != nil {
		return "", fmt.Errorf("invalid jid %q: %w", s, err)
	}

	return j.String(), nil
}

// Ensure возвращает хэндл для jid-а, заводя его при необходимости, и увеличивает счётчик ссылок.
func (r *Registry) Ensure(s string) (Handle, error) {
	key, err := Normalize(s)

	if err != nil {
		return None, err
	}

	if h, ok := r.byJID[key]; ok {
		r.entries[h].refs++

		return h, nil
	}

	h := r.next
	r.next++

	r.byJID[key] = h
	r.entries[h] = &entry{jid: key, refs: 1}

	return h, nil
}

// Ref увеличивает счётчик ссылок существующего хэндла.
func (r *Registry) Ref(h Handle) {
	if e, ok := r.entries[h]; ok {
		e.refs++
	}
}

// Release уменьшает счётчик ссылок и забывает хэндл, когда ссылок не осталось.
func (r *Registry) Release(h Handle) {
	e, ok := r.entries[h]

	if !ok {
		return
	}

	e.refs--

	if e.refs > 0 {
		return
	}

	delete(r.entries, h)
	delete(r.byJID, e.jid)
}

// Inspect возвращает jid хэндла.
func (r *Registry) Inspect(h Handle) (string, bool) {
	e, ok := r.entries[h]

	if !ok {
		return "", false
	}

	return e.jid, true
}

// Lookup ищет хэндл jid-а, не трогая счётчик ссылок.
func (r *Registry) Lookup(s string) (Handle, bool) {
	key, err := Normalize(s)

	if err != nil {
		return None, false
	}

	h, ok := r.byJID[key]

	return h, ok
}

// Refs возвращает текущее число ссылок на хэндл.
func (r *Registry) Refs(h Handle) int {
	if e, ok := r.entries[h]; ok {
		return e.refs
	}

	return 0
}

// Len возвращает количество живых хэндлов.
func (r *Registry) Len() int {
	return len(r.entries)
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
