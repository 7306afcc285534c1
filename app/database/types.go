package database

import (
	"time"
)

// Character is the stored projection of an upstream character record.
// CreatedAt and UpdatedAt are bookkeeping timestamps owned by the storage
// layer: CreatedAt is set on first sync, UpdatedAt refreshed on every
// subsequent sync of the same id. Created is the upstream creation
// timestamp as reported by the API.
type Character struct {
	ID           int
	Name         string
	Status       string
	Species      string
	Type         string
	Gender       string
	OriginName   string
	OriginURL    string
	LocationName string
	LocationURL  string
	ImageURL     string
	EpisodeURLs  []string
	APIURL       string
	Created      *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
