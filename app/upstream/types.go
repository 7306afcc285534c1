package upstream

import (
	"encoding/json"
	"fmt"
	"time"
)

// NamedRef is a name/url pair as returned by the upstream API for
// origins and locations.
type NamedRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Character is a single character record as returned by the upstream API.
type Character struct {
	ID       int       `json:"id"`
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Species  string    `json:"species"`
	Type     string    `json:"type"`
	Gender   string    `json:"gender"`
	Origin   NamedRef  `json:"origin"`
	Location NamedRef  `json:"location"`
	Image    string    `json:"image"`
	Episode  []string  `json:"episode"`
	URL      string    `json:"url"`
	Created  time.Time `json:"created"`
}

// Validate checks the fields the sync pipeline requires. Records failing
// validation are dropped with a warning, never fatal.
func (c *Character) Validate() error {
	if c.ID <= 0 {
		return fmt.Errorf("invalid character id: %d", c.ID)
	}
	if c.Name == "" {
		return fmt.Errorf("character %d has empty name", c.ID)
	}
	if c.Status == "" {
		return fmt.Errorf("character %d has empty status", c.ID)
	}
	if c.Species == "" {
		return fmt.Errorf("character %d has empty species", c.ID)
	}
	return nil
}

// PageInfo is the pagination envelope of a list response. Next and Prev are
// full URLs whose "page" query parameter carries the page number.
type PageInfo struct {
	Count int    `json:"count"`
	Pages int    `json:"pages"`
	Next  string `json:"next"`
	Prev  string `json:"prev"`
}

// Results stay raw so a single malformed record can be skipped without
// aborting the page.
type characterPage struct {
	Info    PageInfo          `json:"info"`
	Results []json.RawMessage `json:"results"`
}

// Health summarizes upstream availability for the healthcheck endpoint.
type Health struct {
	Status          string `json:"status"`
	TotalCharacters int    `json:"total_characters,omitempty"`
	Pages           int    `json:"pages,omitempty"`
	Error           string `json:"error,omitempty"`
}
