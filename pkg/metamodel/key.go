package metamodel

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Storage key constants for consistent key rendering
const (
	keyPrefix      = "em4go"
	keySeparator   = ":"
	maxRenderedID  = 64  // longer ids are hashed
	hashedIDPrefix = "#" // literal ids containing it are hashed too
)

// Key addresses one logical entity: its type plus identifier value.
// Keys are comparable and may be used directly as map keys.
type Key struct {
	entityType *EntityType
	id         any
}

// NewKey builds the key for id under entityType.
func NewKey(entityType *EntityType, id any) (Key, error) {
	if entityType == nil {
		return Key{}, fmt.Errorf("%w: nil entity type", ErrUnknownEntityType)
	}
	if id == nil {
		return Key{}, fmt.Errorf("%w: nil id for %s", ErrInvalidIdentifier, entityType.name)
	}
	if !reflect.TypeOf(id).Comparable() {
		return Key{}, fmt.Errorf("%w: %T is not comparable", ErrInvalidIdentifier, id)
	}
	return Key{entityType: entityType, id: id}, nil
}

// EntityType returns the key's entity type
func (k Key) EntityType() *EntityType {
	return k.entityType
}

// ID returns the identifier value
func (k Key) ID() any {
	return k.id
}

// IsZero reports whether k is the zero Key
func (k Key) IsZero() bool {
	return k.entityType == nil
}

// String renders the storage key, e.g. "em4go:album:42".
// Identifiers longer than maxRenderedID, or containing "#", are replaced by
// "#" and their 64-bit xxhash digest, so a hashed rendering never equals a
// literal one. Two such identifiers collide only if their digests do.
func (k Key) String() string {
	if k.entityType == nil {
		return ""
	}
	id := fmt.Sprintf("%v", k.id)
	if len(id) > maxRenderedID || strings.Contains(id, hashedIDPrefix) {
		id = fmt.Sprintf("%s%016x", hashedIDPrefix, xxhash.Sum64String(id))
	}
	return keyPrefix + keySeparator + k.entityType.name + keySeparator + id
}

// Prefix returns the key prefix shared by every key of entityType.
func Prefix(entityType *EntityType) string {
	return keyPrefix + keySeparator + entityType.name + keySeparator
}
