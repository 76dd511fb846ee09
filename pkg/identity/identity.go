package identity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IDKind tags the two backend id shapes.
type IDKind string

const (
	// IDInt is a numeric backend id.
	IDInt IDKind = "int"

	// IDString is an opaque string or UUID backend id.
	IDString IDKind = "string"
)

// BackendID is a backend-assigned identity: a numeric id or an opaque
// string, depending on the backend. Ids of different kinds never compare
// equal even when their renderings coincide.
type BackendID struct {
	Kind IDKind
	Int  int64
	Str  string
}

// IntID builds a numeric backend id.
func IntID(v int64) BackendID { return BackendID{Kind: IDInt, Int: v} }

// StringID builds an opaque string backend id.
func StringID(s string) BackendID { return BackendID{Kind: IDString, Str: s} }

// Equal reports whether two ids have the same kind and value.
func (b BackendID) Equal(other BackendID) bool {
	if b.Kind != other.Kind {
		return false
	}
	if b.Kind == IDInt {
		return b.Int == other.Int
	}
	return b.Str == other.Str
}

func (b BackendID) String() string {
	if b.Kind == IDInt {
		return strconv.FormatInt(b.Int, 10)
	}
	return b.Str
}

// MarshalJSON renders the id in its native JSON shape: a number for numeric
// ids, a string otherwise. Plan artifacts rely on this.
func (b BackendID) MarshalJSON() ([]byte, error) {
	if b.Kind == IDInt {
		return json.Marshal(b.Int)
	}
	return json.Marshal(b.Str)
}

// UnmarshalJSON accepts either shape without losing precision.
func (b *BackendID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("backend id must be a number or string: %s", data)
	}
	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("backend id %s is not an integer: %w", n, err)
	}
	*b = IntID(v)
	return nil
}

// Store is the identity mapping consulted during planning and updated
// during apply. Implementations are not safe for concurrent writers; one
// apply run owns the store for its duration.
type Store interface {
	// Lookup returns the backend id recorded for (type, uid).
	Lookup(typeName string, uid uuid.UUID) (BackendID, bool)

	// Record stores a mapping. Re-recording the same pair is a no-op;
	// recording a different id for an existing uid overwrites it.
	Record(typeName string, uid uuid.UUID, id BackendID)

	// Forget drops a mapping after a successful delete.
	Forget(typeName string, uid uuid.UUID)

	// UIDFor is the reverse lookup used to pair observed records with
	// desired objects when computing deletes.
	UIDFor(typeName string, id BackendID) (uuid.UUID, bool)
}

// Entry is one persisted mapping row.
type Entry struct {
	Type string    `json:"type"`
	UID  uuid.UUID `json:"uid"`
	ID   BackendID `json:"id"`
}

// MemStore is the in-memory Store used as the working copy for a run.
type MemStore struct {
	forward map[string]map[uuid.UUID]BackendID
	logger  zerolog.Logger
}

// NewMemStore returns an empty store that logs nowhere.
func NewMemStore() *MemStore {
	return &MemStore{
		forward: map[string]map[uuid.UUID]BackendID{},
		logger:  zerolog.Nop(),
	}
}

// WithLogger sets the logger used for reconciliation notes.
func (s *MemStore) WithLogger(logger zerolog.Logger) *MemStore {
	s.logger = logger
	return s
}

// Lookup implements Store.
func (s *MemStore) Lookup(typeName string, uid uuid.UUID) (BackendID, bool) {
	id, ok := s.forward[typeName][uid]
	return id, ok
}

// Record implements Store. Replacing an existing mapping with a different
// id is legal but unusual, so it is logged as a reconciliation note.
func (s *MemStore) Record(typeName string, uid uuid.UUID, id BackendID) {
	byUID, ok := s.forward[typeName]
	if !ok {
		byUID = map[uuid.UUID]BackendID{}
		s.forward[typeName] = byUID
	}
	if prev, exists := byUID[uid]; exists {
		if prev.Equal(id) {
			return
		}
		s.logger.Warn().
			Str("type", typeName).
			Str("uid", uid.String()).
			Str("previous", prev.String()).
			Str("replacement", id.String()).
			Msg("identity mapping overwritten during reconciliation")
	}
	byUID[uid] = id
}

// Forget implements Store.
func (s *MemStore) Forget(typeName string, uid uuid.UUID) {
	delete(s.forward[typeName], uid)
}

// UIDFor implements Store. The scan is linear per type; identity maps are
// small relative to observed state.
func (s *MemStore) UIDFor(typeName string, id BackendID) (uuid.UUID, bool) {
	for uid, mapped := range s.forward[typeName] {
		if mapped.Equal(id) {
			return uid, true
		}
	}
	return uuid.Nil, false
}

// Entries returns every mapping sorted by (type, uid) for deterministic
// persistence and display.
func (s *MemStore) Entries() []Entry {
	var entries []Entry
	for typeName, byUID := range s.forward {
		for uid, id := range byUID {
			entries = append(entries, Entry{Type: typeName, UID: uid, ID: id})
		}
	}
	sortEntries(entries)
	return entries
}

// Seed loads entries into the store, silently overwriting. Used when
// hydrating the working copy from persisted state.
func (s *MemStore) Seed(entries []Entry) {
	for _, e := range entries {
		byUID, ok := s.forward[e.Type]
		if !ok {
			byUID = map[uuid.UUID]BackendID{}
			s.forward[e.Type] = byUID
		}
		byUID[e.UID] = e.ID
	}
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type < entries[j].Type
		}
		return entries[i].UID.String() < entries[j].UID.String()
	})
}
