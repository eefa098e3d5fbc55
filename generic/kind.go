/*
kind.go - Subject kind registration and lookup

PURPOSE:
  An obligation references exactly one subject: a student who owes tuition,
  or a teacher / staff member the school owes a salary. The generic engine
  never names those kinds; domain packages define them and register them
  here so that storage and JSON can be turned back into concrete kinds.

HOW IT WORKS:
  1. Domain packages define their SubjectKind implementations
  2. They register them from init()
  3. Stores, the factory and the API resolve kind strings via LookupKind

USAGE:
  // In tuition/types.go
  func init() {
      generic.RegisterKind(KindStudent)
  }

  kind := generic.GetOrCreateKind("student") // tuition.KindStudent

SEE ALSO:
  - tuition/types.go: student kind (INCOME)
  - salary/types.go: teacher and staff kinds (EXPENSE)
*/
package generic

import (
	"fmt"
	"sort"
	"sync"
)

// SubjectKind identifies which kind of party an obligation is about.
// Direction tells the reporter whether contributions are income or expense.
type SubjectKind interface {
	KindID() string
	KindDomain() string
	Direction() Direction
}

// SubjectRef is the tagged union over subject kinds: one kind, one id.
type SubjectRef struct {
	Kind SubjectKind
	ID   SubjectID
}

func (r SubjectRef) IsZero() bool {
	return r.Kind == nil || r.ID == ""
}

func (r SubjectRef) String() string {
	if r.Kind == nil {
		return "?/" + string(r.ID)
	}
	return r.Kind.KindID() + "/" + string(r.ID)
}

// Key is a comparable form used for map keys and uniqueness checks.
func (r SubjectRef) Key() SubjectKey {
	k := SubjectKey{ID: r.ID}
	if r.Kind != nil {
		k.Kind = r.Kind.KindID()
	}
	return k
}

type SubjectKey struct {
	Kind string
	ID   SubjectID
}

// =============================================================================
// KIND REGISTRY
// =============================================================================

var (
	kindRegistry = make(map[string]SubjectKind)
	kindMu       sync.RWMutex
)

// RegisterKind adds a subject kind to the global registry.
func RegisterKind(k SubjectKind) {
	kindMu.Lock()
	defer kindMu.Unlock()
	kindRegistry[k.KindID()] = k
}

// LookupKind returns nil when the kind is not registered.
func LookupKind(id string) SubjectKind {
	kindMu.RLock()
	defer kindMu.RUnlock()
	return kindRegistry[id]
}

// ListKinds returns registered kinds sorted by id.
func ListKinds() []SubjectKind {
	kindMu.RLock()
	defer kindMu.RUnlock()
	result := make([]SubjectKind, 0, len(kindRegistry))
	for _, k := range kindRegistry {
		result = append(result, k)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].KindID() < result[j].KindID() })
	return result
}

// ListKindsByDomain returns kinds owned by one domain package.
func ListKindsByDomain(domain string) []SubjectKind {
	var result []SubjectKind
	for _, k := range ListKinds() {
		if k.KindDomain() == domain {
			result = append(result, k)
		}
	}
	return result
}

// =============================================================================
// STRING KIND - For testing and fallback
// =============================================================================

// StringKind is used when a stored kind has no registered implementation.
type StringKind struct {
	ID     string
	Domain string
	Dir    Direction
}

func (k StringKind) KindID() string       { return k.ID }
func (k StringKind) KindDomain() string   { return k.Domain }
func (k StringKind) Direction() Direction { return k.Dir }

// NewStringKind creates a fallback kind. Unknown kinds count as income.
func NewStringKind(id string) StringKind {
	return StringKind{ID: id, Domain: "unknown", Dir: DirectionIncome}
}

// GetOrCreateKind looks up a kind, or falls back to a StringKind.
func GetOrCreateKind(id string) SubjectKind {
	if k := LookupKind(id); k != nil {
		return k
	}
	return NewStringKind(id)
}

// ParseKind resolves a registered kind or returns a validation error.
func ParseKind(id string) (SubjectKind, error) {
	if k := LookupKind(id); k != nil {
		return k, nil
	}
	return nil, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown subject kind %q", id)}
}
