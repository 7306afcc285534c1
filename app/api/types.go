package api

import (
	"time"

	"github.com/portalwatch/portalwatch/app/cache"
	"github.com/portalwatch/portalwatch/app/database"
	"github.com/portalwatch/portalwatch/app/sync"
	"github.com/portalwatch/portalwatch/app/upstream"
)

type Handler struct {
	db       *database.DB
	repo     database.CharacterRepository
	cache    *cache.Cache
	upstream *upstream.Client
	syncer   *sync.Syncer
}

// CharacterResponse is the read-side projection of a stored character.
type CharacterResponse struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Species    string    `json:"species"`
	OriginName string    `json:"origin_name"`
	ImageURL   string    `json:"image_url"`
	CreatedAt  time.Time `json:"created_at"`
}

type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// CharacterListResponse is the canonical schema of the character list
// cache namespace.
type CharacterListResponse struct {
	Characters []CharacterResponse `json:"characters"`
	Pagination Pagination          `json:"pagination"`
}

// StatsResponse is the canonical schema of the stats cache namespace.
type StatsResponse struct {
	TotalCharacters  int            `json:"total_characters"`
	SpeciesBreakdown map[string]int `json:"species_breakdown"`
	StatusBreakdown  map[string]int `json:"status_breakdown"`
	LastSync         *time.Time     `json:"last_sync"`
}

func toCharacterResponse(character database.Character) CharacterResponse {
	return CharacterResponse{
		ID:         character.ID,
		Name:       character.Name,
		Status:     character.Status,
		Species:    character.Species,
		OriginName: character.OriginName,
		ImageURL:   character.ImageURL,
		CreatedAt:  character.CreatedAt,
	}
}
