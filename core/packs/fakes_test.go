package packs

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// memStore is an in-memory store recording every mutation in order.
type memStore struct {
	mu       sync.Mutex
	packs    map[string]*Pack
	schemas  map[string]*ConfigSchema
	entities map[EntityKind][]*Entity
	journal  []string

	failDelete    map[string]error
	failList      map[EntityKind]error
	failPackDel   error
	failSchemaDel error
}

func newMemStore() *memStore {
	return &memStore{
		packs:      map[string]*Pack{},
		schemas:    map[string]*ConfigSchema{},
		entities:   map[EntityKind][]*Entity{},
		failDelete: map[string]error{},
		failList:   map[EntityKind]error{},
	}
}

func (m *memStore) addPack(p *Pack) {
	m.packs[p.ID] = p
}

func (m *memStore) addEntity(e *Entity) {
	m.entities[e.Kind] = append(m.entities[e.Kind], e)
}

func (m *memStore) count(kind EntityKind, pack string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entities[kind] {
		if e.Pack == pack {
			n++
		}
	}
	return n
}

func (m *memStore) ListByPack(_ context.Context, kind EntityKind, pack string) ([]*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failList[kind]; err != nil {
		return nil, err
	}
	var out []*Entity
	for _, e := range m.entities[kind] {
		if e.Pack == pack {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) DeleteEntity(_ context.Context, entity *Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDelete[entity.ID]; err != nil {
		m.journal = append(m.journal, "fail:"+string(entity.Kind)+":"+entity.ID)
		return err
	}
	list := m.entities[entity.Kind]
	for i, e := range list {
		if e.ID == entity.ID {
			m.entities[entity.Kind] = append(list[:i:i], list[i+1:]...)
			m.journal = append(m.journal, "delete:"+string(entity.Kind)+":"+entity.ID)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) GetPackByID(_ context.Context, id string) (*Pack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = append(m.journal, "get_id:"+id)
	if p, ok := m.packs[id]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

func (m *memStore) GetPackByRef(_ context.Context, ref string) (*Pack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = append(m.journal, "get_ref:"+ref)
	for _, p := range m.packs {
		if p.Ref == ref {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetPackByName(_ context.Context, name string) (*Pack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.packs {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) DeletePack(_ context.Context, pack *Pack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPackDel != nil {
		return m.failPackDel
	}
	delete(m.packs, pack.ID)
	m.journal = append(m.journal, "delete:pack:"+pack.Name)
	return nil
}

func (m *memStore) GetConfigSchema(_ context.Context, pack string) (*ConfigSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.schemas[pack]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

func (m *memStore) DeleteConfigSchema(_ context.Context, schema *ConfigSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSchemaDel != nil {
		return m.failSchemaDel
	}
	delete(m.schemas, schema.Pack)
	m.journal = append(m.journal, "delete:config_schema:"+schema.Pack)
	return nil
}

// CleanupOrphanTrigger drops the rule's trigger when it is auto-generated and unused.
func (m *memStore) CleanupOrphanTrigger(_ context.Context, rule *Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.entities[KindRule] {
		if r.Trigger == rule.Trigger {
			return nil
		}
	}
	list := m.entities[KindTrigger]
	for i, t := range list {
		if t.Ref == rule.Trigger && t.Data["parameters"] != nil {
			m.entities[KindTrigger] = append(list[:i:i], list[i+1:]...)
			m.journal = append(m.journal, "cleanup:triggers:"+t.ID)
			return nil
		}
	}
	return nil
}

func (m *memStore) engine(protected ProtectedSet, opts ...EngineOption) *Engine {
	return NewEngine(NewCollections(m, m), m, m, protected, opts...)
}

type fakeLocker struct {
	held   map[string]bool
	locked []string
}

func (l *fakeLocker) LockPack(_ context.Context, pack string) (func(), error) {
	if l.held[pack] {
		return nil, ErrPackLocked
	}
	l.locked = append(l.locked, pack)
	return func() { l.locked = append(l.locked, "released:"+pack) }, nil
}

var errBoom = errors.New("boom")

func entityID(kind EntityKind, i int) string {
	return fmt.Sprintf("%s-%d", kind, i)
}
