package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID                string `gorm:"primaryKey"`
	Username          string `gorm:"uniqueIndex;not null"`
	Email             string `gorm:"uniqueIndex;not null"`
	PasswordHash      string `gorm:"not null"`
	Role              string `gorm:"not null"`
	PermanentlyBanned bool   `gorm:"not null;default:false"`
	BannedUntil       *time.Time
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time
}

type ObservationModel struct {
	ID      string  `gorm:"primaryKey"`
	Title   string  `gorm:"not null"`
	OwnerID *string `gorm:"index"`
	Lat     float64 `gorm:"not null"`
	Lng     float64 `gorm:"not null"`
	// Boundary holds the polygon ring as JSONB; the lat/lng columns carry
	// the derived centroid so spatial filters stay plain column predicates.
	Boundary  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

type ConfirmationModel struct {
	ID            string  `gorm:"primaryKey"`
	ObservationID *string `gorm:"index"`
	OwnerID       *string `gorm:"index"`
	Confirmed     bool    `gorm:"not null"`
	Description   string
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type PictureModel struct {
	ID               string `gorm:"primaryKey"`
	ConfirmationID   string `gorm:"not null;index"`
	OriginalFilename string `gorm:"not null"`
	StorageKey       string `gorm:"not null;uniqueIndex"`
	SizeBytes        int64  `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

type TagModel struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

type ObservationTagModel struct {
	ObservationID string `gorm:"primaryKey"`
	TagID         string `gorm:"primaryKey"`
}
