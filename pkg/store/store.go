package store

import "fieldscope/pkg/domain"

// ObservationFilter narrows and paginates observation listings. All filters
// are applied before pagination; results are ordered by id ascending.
type ObservationFilter struct {
	domain.PageRequest
	Title    string
	TagNames []string
	OwnerID  string
	BBox     *domain.BoundingBox
	Near     *domain.Proximity
}

// ConfirmationFilter narrows and paginates confirmation listings.
type ConfirmationFilter struct {
	domain.PageRequest
	ObservationID string
	OwnerID       string
	Confirmed     *bool
}

// UserFilter narrows and paginates user listings.
type UserFilter struct {
	domain.PageRequest
	Username string
}

// TagFilter narrows and paginates tag listings.
type TagFilter struct {
	domain.PageRequest
	Name string
}

// Store defines persistence operations for users, observations,
// confirmations, pictures, and tags. List methods return the page of items
// plus the total filtered count.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUsername(username string) (bool, error)
	HasUserEmail(email string) (bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	ListUsers(UserFilter) ([]domain.User, int64, error)

	// observations
	SaveObservation(domain.Observation) error
	GetObservation(id string) (domain.Observation, bool, error)
	ListObservations(ObservationFilter) ([]domain.Observation, int64, error)
	DeleteObservation(id string) error

	// confirmations
	SaveConfirmation(domain.Confirmation) error
	GetConfirmation(id string) (domain.Confirmation, bool, error)
	ListConfirmations(ConfirmationFilter) ([]domain.Confirmation, int64, error)
	DeleteConfirmation(id string) error

	// pictures
	SavePicture(domain.Picture) error
	GetPicture(id string) (domain.Picture, bool, error)
	ListPicturesByConfirmation(confirmationID string) ([]domain.Picture, error)
	ListPicturesByObservation(observationID string) ([]domain.Picture, error)
	DeletePicture(id string) error

	// tags
	EnsureTags(names []string) ([]domain.Tag, error)
	SaveTag(domain.Tag) error
	GetTag(id string) (domain.Tag, bool, error)
	GetTagByName(name string) (domain.Tag, bool, error)
	ListTags(TagFilter) ([]domain.Tag, int64, error)
	DeleteTag(id string) error
}
