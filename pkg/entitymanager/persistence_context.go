package entitymanager

import (
	"sort"

	"github.com/rieonke/em4go/pkg/metamodel"
)

// persistenceContext is the first-level cache: at most one live instance per
// Key. The reverse index maps an instance back to its Key by identity; entity
// values are pointers, so map equality on them is pointer identity.
type persistenceContext struct {
	entities map[metamodel.Key]any
	keys     map[any]metamodel.Key
}

type managedEntry struct {
	key    metamodel.Key
	entity any
}

func newPersistenceContext() *persistenceContext {
	return &persistenceContext{
		entities: make(map[metamodel.Key]any),
		keys:     make(map[any]metamodel.Key),
	}
}

func (pc *persistenceContext) get(key metamodel.Key) any {
	return pc.entities[key]
}

// put registers entity under key, evicting whatever instance held key
// before and any other key entity was registered under.
func (pc *persistenceContext) put(key metamodel.Key, entity any) {
	if previous, ok := pc.entities[key]; ok && previous != entity {
		delete(pc.keys, previous)
	}
	if oldKey, ok := pc.keys[entity]; ok && oldKey != key {
		delete(pc.entities, oldKey)
	}
	pc.entities[key] = entity
	pc.keys[entity] = key
}

func (pc *persistenceContext) remove(key metamodel.Key) {
	if entity, ok := pc.entities[key]; ok {
		delete(pc.keys, entity)
		delete(pc.entities, key)
	}
}

func (pc *persistenceContext) keyOf(entity any) (metamodel.Key, bool) {
	key, ok := pc.keys[entity]
	return key, ok
}

func (pc *persistenceContext) len() int {
	return len(pc.entities)
}

// snapshot copies the entries, ordered by storage key so iteration is
// deterministic. Callers may mutate the context while walking the copy.
func (pc *persistenceContext) snapshot() []managedEntry {
	entries := make([]managedEntry, 0, len(pc.entities))
	for key, entity := range pc.entities {
		entries = append(entries, managedEntry{key: key, entity: entity})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key.String() < entries[j].key.String()
	})
	return entries
}
