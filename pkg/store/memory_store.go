package store

import (
	"sort"
	"strings"
	"sync"

	"fieldscope/pkg/domain"
)

// MemoryStore keeps all state in-process. It mirrors the GormStore filter
// and ordering semantics and backs the app/server tests.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	observations  map[string]domain.Observation
	confirmations map[string]domain.Confirmation
	pictures      map[string]domain.Picture
	tags          map[string]domain.Tag
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		observations:  make(map[string]domain.Observation),
		confirmations: make(map[string]domain.Confirmation),
		pictures:      make(map[string]domain.Picture),
		tags:          make(map[string]domain.Tag),
	}
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

// HasUsername checks if a username exists.
func (m *MemoryStore) HasUsername(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

// HasUserEmail checks if an email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// ListUsers returns a filtered page of users ordered by id.
func (m *MemoryStore) ListUsers(f UserFilter) ([]domain.User, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		if f.Username != "" && !containsFold(u.Username, f.Username) {
			continue
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginate(matched, f.PageRequest)
}

// SaveObservation stores or updates an observation.
func (m *MemoryStore) SaveObservation(o domain.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.Confirmations = nil
	m.observations[o.ID] = o
	return nil
}

// GetObservation retrieves an observation with tags and confirmations.
func (m *MemoryStore) GetObservation(id string) (domain.Observation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.observations[id]
	if !ok {
		return domain.Observation{}, false, nil
	}
	o.Confirmations = m.confirmationsOf(id)
	return o, true, nil
}

func (m *MemoryStore) confirmationsOf(observationID string) []domain.Confirmation {
	res := []domain.Confirmation{}
	for _, c := range m.confirmations {
		if c.ObservationID == observationID {
			c.Pictures = m.picturesOf(c.ID)
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (m *MemoryStore) picturesOf(confirmationID string) []domain.Picture {
	res := []domain.Picture{}
	for _, p := range m.pictures {
		if p.ConfirmationID == confirmationID {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// ListObservations returns a filtered page of observations ordered by id.
func (m *MemoryStore) ListObservations(f ObservationFilter) ([]domain.Observation, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.Observation, 0, len(m.observations))
	for _, o := range m.observations {
		if f.Title != "" && !containsFold(o.Title, f.Title) {
			continue
		}
		if f.OwnerID != "" && o.OwnerID != f.OwnerID {
			continue
		}
		if f.BBox != nil && !f.BBox.Contains(o.Location) {
			continue
		}
		if f.Near != nil && domain.DistanceMeters(f.Near.Center, o.Location) > f.Near.RadiusMeters {
			continue
		}
		if len(f.TagNames) > 0 && !hasAnyTag(o.Tags, f.TagNames) {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginate(matched, f.PageRequest)
}

// DeleteObservation removes an observation with its confirmations and
// picture rows.
func (m *MemoryStore) DeleteObservation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for cid, c := range m.confirmations {
		if c.ObservationID != id {
			continue
		}
		for pid, p := range m.pictures {
			if p.ConfirmationID == cid {
				delete(m.pictures, pid)
			}
		}
		delete(m.confirmations, cid)
	}
	delete(m.observations, id)
	return nil
}

// SaveConfirmation stores or updates a confirmation.
func (m *MemoryStore) SaveConfirmation(c domain.Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Pictures = nil
	m.confirmations[c.ID] = c
	return nil
}

// GetConfirmation retrieves a confirmation with its pictures.
func (m *MemoryStore) GetConfirmation(id string) (domain.Confirmation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.confirmations[id]
	if !ok {
		return domain.Confirmation{}, false, nil
	}
	c.Pictures = m.picturesOf(id)
	return c, true, nil
}

// ListConfirmations returns a filtered page of confirmations ordered by id.
func (m *MemoryStore) ListConfirmations(f ConfirmationFilter) ([]domain.Confirmation, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.Confirmation, 0, len(m.confirmations))
	for _, c := range m.confirmations {
		if f.ObservationID != "" && c.ObservationID != f.ObservationID {
			continue
		}
		if f.OwnerID != "" && c.OwnerID != f.OwnerID {
			continue
		}
		if f.Confirmed != nil && c.Confirmed != *f.Confirmed {
			continue
		}
		c.Pictures = m.picturesOf(c.ID)
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginate(matched, f.PageRequest)
}

// DeleteConfirmation removes a confirmation and its picture rows.
func (m *MemoryStore) DeleteConfirmation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pid, p := range m.pictures {
		if p.ConfirmationID == id {
			delete(m.pictures, pid)
		}
	}
	delete(m.confirmations, id)
	return nil
}

// SavePicture stores a picture record.
func (m *MemoryStore) SavePicture(p domain.Picture) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pictures[p.ID] = p
	return nil
}

// GetPicture retrieves a picture by ID.
func (m *MemoryStore) GetPicture(id string) (domain.Picture, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pictures[id]
	return p, ok, nil
}

// ListPicturesByConfirmation returns pictures for a confirmation ordered by id.
func (m *MemoryStore) ListPicturesByConfirmation(confirmationID string) ([]domain.Picture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.picturesOf(confirmationID), nil
}

// ListPicturesByObservation returns every picture attached to any
// confirmation of the observation.
func (m *MemoryStore) ListPicturesByObservation(observationID string) ([]domain.Picture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := []domain.Picture{}
	for _, c := range m.confirmations {
		if c.ObservationID == observationID {
			res = append(res, m.picturesOf(c.ID)...)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// DeletePicture removes a picture record.
func (m *MemoryStore) DeletePicture(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pictures, id)
	return nil
}

// EnsureTags resolves tag names to tags, creating missing ones.
func (m *MemoryStore) EnsureTags(names []string) ([]domain.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Tag, 0, len(names))
	for _, name := range names {
		tag, ok := m.tagByNameLocked(name)
		if !ok {
			tag = domain.Tag{ID: newTagID(), Name: name}
			m.tags[tag.ID] = tag
		}
		res = append(res, tag)
	}
	return res, nil
}

func (m *MemoryStore) tagByNameLocked(name string) (domain.Tag, bool) {
	for _, t := range m.tags {
		if t.Name == name {
			return t, true
		}
	}
	return domain.Tag{}, false
}

// SaveTag stores or renames a tag.
func (m *MemoryStore) SaveTag(t domain.Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[t.ID] = t
	return nil
}

// GetTag retrieves a tag by ID.
func (m *MemoryStore) GetTag(id string) (domain.Tag, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tags[id]
	return t, ok, nil
}

// GetTagByName retrieves a tag by exact name.
func (m *MemoryStore) GetTagByName(name string) (domain.Tag, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tagByNameLocked(name)
	return t, ok, nil
}

// ListTags returns a filtered page of tags ordered by id.
func (m *MemoryStore) ListTags(f TagFilter) ([]domain.Tag, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]domain.Tag, 0, len(m.tags))
	for _, t := range m.tags {
		if f.Name != "" && !containsFold(t.Name, f.Name) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginate(matched, f.PageRequest)
}

// DeleteTag removes a tag and detaches it from observations.
func (m *MemoryStore) DeleteTag(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for oid, o := range m.observations {
		// Fresh slice: previously returned observations alias the old backing
		// array and must not see the mutation.
		kept := make([]domain.Tag, 0, len(o.Tags))
		for _, t := range o.Tags {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		o.Tags = kept
		m.observations[oid] = o
	}
	delete(m.tags, id)
	return nil
}

func paginate[T any](matched []T, p domain.PageRequest) ([]T, int64, error) {
	total := int64(len(matched))
	offset := p.Offset()
	if offset < 0 || offset >= len(matched) {
		return []T{}, total, nil
	}
	end := offset + p.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func hasAnyTag(tags []domain.Tag, names []string) bool {
	for _, t := range tags {
		for _, name := range names {
			if t.Name == name {
				return true
			}
		}
	}
	return false
}
