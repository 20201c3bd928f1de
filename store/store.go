package store

import (
	"fmt"
	"time"
)

// ServerResult carries the authoritative outcome of a remote write back
// into the store on confirm.
type ServerResult struct {
	// ID is the server-assigned entity id. For insert intents it
	// replaces the temp id; otherwise it may be empty.
	ID string

	// Fields holds authoritative field values that replace the
	// predicted ones, when the server returns any.
	Fields map[string]any

	// Order, when set, is the server-assigned order key. Nil leaves
	// the speculative position in place.
	Order *int
}

// PushKind enumerates realtime push event kinds.
type PushKind string

const (
	PushInsert   PushKind = "insert"
	PushUpdate   PushKind = "update"
	PushDelete   PushKind = "delete"
	PushPresence PushKind = "presence"
)

// Push is a candidate realtime event offered to MergeOrSkip.
type Push struct {
	Kind   PushKind
	Entity Entity

	// CorrelationKey matches the pushed entity against a speculative
	// insert whose server id is not known yet.
	CorrelationKey string

	// At is the transport timestamp of the event.
	At time.Time
}

// overlay records one applied speculative mutation together with
// everything needed to invert exactly that mutation later.
type overlay struct {
	intent Intent

	// tempID is the placeholder id of a speculative insert.
	tempID string

	// prevFields holds the prior values of fields touched by a toggle
	// or update (absent keys recorded as nil with a presence marker).
	prevFields map[string]fieldSnapshot

	// prevOrder is the id sequence before a reorder.
	prevOrder []string
}

type fieldSnapshot struct {
	value   any
	present bool
}

// Store holds the current view of one collection plus all outstanding
// speculative overlays.
type Store struct {
	entities []Entity
	overlays map[string]*overlay

	// CorrelationWindow bounds how far a push timestamp may drift from
	// a speculative insert's submit time and still count as the same
	// entity. Zero disables correlation matching.
	CorrelationWindow time.Duration

	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		overlays: make(map[string]*overlay),
		now:      time.Now,
	}
}

// NewFromSnapshot creates a store seeded with confirmed entities, e.g.
// the result of an initial query. Order keys are recomputed densely.
func NewFromSnapshot(entities []Entity) *Store {
	s := New()
	for _, e := range entities {
		s.entities = append(s.entities, e.Clone())
	}
	s.renumber()
	return s
}

// SetClock overrides the store's clock. Test hook.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Snapshot returns a deep copy of the current view in display order.
func (s *Store) Snapshot() []Entity {
	out := make([]Entity, len(s.entities))
	for i, e := range s.entities {
		out[i] = e.Clone()
	}
	return out
}

// Get returns a copy of the entity with the given id.
func (s *Store) Get(id string) (Entity, bool) {
	if i := s.index(id); i >= 0 {
		return s.entities[i].Clone(), true
	}
	return Entity{}, false
}

// Len returns the number of entities in the view.
func (s *Store) Len() int { return len(s.entities) }

// PendingOverlay reports whether the entity has an unresolved overlay,
// and of which kind. Used by the controller for merge-conflict and
// serialization decisions.
func (s *Store) PendingOverlay(entityID string) (IntentKind, bool) {
	for _, ov := range s.overlays {
		switch ov.intent.Kind {
		case IntentInsert:
			if ov.tempID == entityID {
				return IntentInsert, true
			}
		case IntentToggle, IntentUpdate:
			if ov.intent.TargetID == entityID {
				return ov.intent.Kind, true
			}
		case IntentReorder:
			for _, id := range ov.intent.Order {
				if id == entityID {
					return IntentReorder, true
				}
			}
		}
	}
	return "", false
}

// OutstandingIntent returns the intent behind an unresolved overlay.
func (s *Store) OutstandingIntent(intentID string) (Intent, bool) {
	if ov, ok := s.overlays[intentID]; ok {
		return ov.intent, true
	}
	return Intent{}, false
}

// ApplySpeculative applies the intent's predicted transformation to the
// view and records an invertible overlay. It is pure with respect to
// the outside world: no I/O, computed synchronously before any remote
// call is issued. The returned snapshot is the new view.
func (s *Store) ApplySpeculative(intent Intent) ([]Entity, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		intent.ID = NewIntentID()
	}
	if intent.SubmittedAt.IsZero() {
		intent.SubmittedAt = s.now()
	}
	if _, dup := s.overlays[intent.ID]; dup {
		return nil, fmt.Errorf("%w: intent %s", ErrIntentOutstanding, intent.ID)
	}
	if key := intent.SerializationKey(); key != "" {
		for _, existing := range s.overlays {
			if existing.intent.SerializationKey() == key {
				return nil, fmt.Errorf("%w: %s", ErrIntentOutstanding, key)
			}
		}
	}

	ov := &overlay{intent: intent}

	switch intent.Kind {
	case IntentToggle:
		if err := s.applyToggle(intent, ov); err != nil {
			return nil, err
		}
	case IntentInsert:
		s.applyInsert(intent, ov)
	case IntentReorder:
		if err := s.applyReorder(intent, ov); err != nil {
			return nil, err
		}
	case IntentUpdate:
		if err := s.applyUpdate(intent, ov); err != nil {
			return nil, err
		}
	}

	s.overlays[intent.ID] = ov
	return s.Snapshot(), nil
}

func (s *Store) applyToggle(intent Intent, ov *overlay) error {
	i := s.index(intent.TargetID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, intent.TargetID)
	}
	e := &s.entities[i]

	flag, ok := e.Fields[intent.ToggleField].(bool)
	if !ok {
		return fmt.Errorf("%w: %s.%s is not bool", ErrFieldType, intent.TargetID, intent.ToggleField)
	}
	count, ok := e.Fields[intent.CounterField].(int)
	if !ok {
		return fmt.Errorf("%w: %s.%s is not int", ErrFieldType, intent.TargetID, intent.CounterField)
	}

	ov.prevFields = map[string]fieldSnapshot{
		intent.ToggleField:  {value: flag, present: true},
		intent.CounterField: {value: count, present: true},
	}

	e.Fields[intent.ToggleField] = !flag
	if flag {
		e.Fields[intent.CounterField] = count - 1
	} else {
		e.Fields[intent.CounterField] = count + 1
	}
	return nil
}

func (s *Store) applyInsert(intent Intent, ov *overlay) {
	e := intent.Insert.Clone()
	e.ID = NewTempID()
	e.OrderKey = len(s.entities)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = intent.SubmittedAt
	}
	ov.tempID = e.ID
	s.entities = append(s.entities, e)
}

func (s *Store) applyReorder(intent Intent, ov *overlay) error {
	if len(intent.Order) != len(s.entities) {
		return fmt.Errorf("%w: got %d ids, have %d entities", ErrOrderMismatch, len(intent.Order), len(s.entities))
	}
	pos := make(map[string]int, len(intent.Order))
	for i, id := range intent.Order {
		pos[id] = i
	}
	for _, e := range s.entities {
		if _, ok := pos[e.ID]; !ok {
			return fmt.Errorf("%w: %s missing from sequence", ErrOrderMismatch, e.ID)
		}
	}

	ov.prevOrder = s.idSequence()
	s.sortBy(pos)
	s.renumber()
	return nil
}

func (s *Store) applyUpdate(intent Intent, ov *overlay) error {
	i := s.index(intent.TargetID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, intent.TargetID)
	}
	e := &s.entities[i]

	ov.prevFields = make(map[string]fieldSnapshot, len(intent.Fields))
	for k, v := range intent.Fields {
		prev, present := e.Fields[k]
		ov.prevFields[k] = fieldSnapshot{value: prev, present: present}
		e.Fields[k] = v
	}
	return nil
}

// Confirm resolves the intent with the server's authoritative result:
// the temp id is swapped for the server id, predicted fields are
// replaced where the server returned values, and the overlay is
// discarded. Calling Confirm again for the same intent is a no-op.
func (s *Store) Confirm(intentID string, result ServerResult) {
	ov, ok := s.overlays[intentID]
	if !ok {
		return
	}
	delete(s.overlays, intentID)

	targetID := ov.intent.TargetID
	if ov.intent.Kind == IntentInsert {
		targetID = ov.tempID
	}

	i := s.index(targetID)
	if i < 0 {
		return
	}
	e := &s.entities[i]

	if ov.intent.Kind == IntentInsert && result.ID != "" {
		e.ID = result.ID
	}
	for k, v := range result.Fields {
		e.Fields[k] = v
	}
	if result.Order != nil {
		e.OrderKey = *result.Order
	}
}

// Rollback discards the overlay and inverts exactly its effects,
// leaving every other outstanding overlay's effects in place. Unknown
// intent ids are a no-op, so a timeout racing an explicit cancel is
// harmless.
func (s *Store) Rollback(intentID string) {
	ov, ok := s.overlays[intentID]
	if !ok {
		return
	}
	delete(s.overlays, intentID)

	switch ov.intent.Kind {
	case IntentInsert:
		if i := s.index(ov.tempID); i >= 0 {
			s.entities = append(s.entities[:i], s.entities[i+1:]...)
			s.renumber()
		}
	case IntentToggle, IntentUpdate:
		if i := s.index(ov.intent.TargetID); i >= 0 {
			e := &s.entities[i]
			for k, snap := range ov.prevFields {
				if snap.present {
					e.Fields[k] = snap.value
				} else {
					delete(e.Fields, k)
				}
			}
		}
	case IntentReorder:
		s.restoreOrder(ov.prevOrder)
	}
}

// MergeOrSkip folds a realtime push into the view. It returns true when
// the view changed. Duplicate detection matches on server id first,
// then on correlation key against speculative temp entries within the
// configured window. At-least-once redelivery therefore cannot
// duplicate an entity.
func (s *Store) MergeOrSkip(p Push) bool {
	switch p.Kind {
	case PushInsert:
		return s.mergeInsert(p)
	case PushUpdate:
		return s.mergeUpdate(p)
	case PushDelete:
		return s.mergeDelete(p)
	default:
		// Presence events carry no entity payload for the view.
		return false
	}
}

func (s *Store) mergeInsert(p Push) bool {
	if s.index(p.Entity.ID) >= 0 {
		return false
	}
	if s.correlatesWithSpeculative(p) {
		return false
	}

	e := p.Entity.Clone()
	e.OrderKey = len(s.entities)
	s.entities = append(s.entities, e)
	return true
}

func (s *Store) mergeUpdate(p Push) bool {
	i := s.index(p.Entity.ID)
	if i < 0 {
		// An update for an entity we never saw arrives as an insert.
		return s.mergeInsert(p)
	}
	e := &s.entities[i]
	changed := false
	for k, v := range p.Entity.Fields {
		if prev, ok := e.Fields[k]; !ok || prev != v {
			e.Fields[k] = v
			changed = true
		}
	}
	return changed
}

func (s *Store) mergeDelete(p Push) bool {
	i := s.index(p.Entity.ID)
	if i < 0 {
		return false
	}
	s.entities = append(s.entities[:i], s.entities[i+1:]...)
	s.renumber()
	return true
}

// correlatesWithSpeculative reports whether the push matches an
// unconfirmed insert overlay by correlation key within the window.
func (s *Store) correlatesWithSpeculative(p Push) bool {
	if p.CorrelationKey == "" || s.CorrelationWindow <= 0 {
		return false
	}
	for _, ov := range s.overlays {
		if ov.intent.Kind != IntentInsert || ov.intent.CorrelationKey != p.CorrelationKey {
			continue
		}
		delta := p.At.Sub(ov.intent.SubmittedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= s.CorrelationWindow {
			return true
		}
	}
	return false
}

func (s *Store) index(id string) int {
	for i := range s.entities {
		if s.entities[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) idSequence() []string {
	ids := make([]string, len(s.entities))
	for i, e := range s.entities {
		ids[i] = e.ID
	}
	return ids
}

// sortBy stably reorders entities so that ids present in pos follow pos
// order; ids not in pos keep their relative order after all known ids.
func (s *Store) sortBy(pos map[string]int) {
	known := make([]Entity, 0, len(s.entities))
	unknown := make([]Entity, 0)
	for _, e := range s.entities {
		if _, ok := pos[e.ID]; ok {
			known = append(known, e)
		} else {
			unknown = append(unknown, e)
		}
	}
	for i := 1; i < len(known); i++ {
		for j := i; j > 0 && pos[known[j-1].ID] > pos[known[j].ID]; j-- {
			known[j-1], known[j] = known[j], known[j-1]
		}
	}
	s.entities = append(known, unknown...)
}

// restoreOrder reverts to a previous id sequence. Entities that joined
// the view after the sequence was captured (e.g. push-driven inserts)
// stay at the end in their current relative order.
func (s *Store) restoreOrder(prev []string) {
	pos := make(map[string]int, len(prev))
	for i, id := range prev {
		pos[id] = i
	}
	s.sortBy(pos)
	s.renumber()
}

// renumber recomputes dense zero-based order keys. Called after every
// structural change so a push racing a reorder can never collide with
// in-flight indices.
func (s *Store) renumber() {
	for i := range s.entities {
		s.entities[i].OrderKey = i
	}
}
