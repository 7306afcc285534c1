package cache

import (
	"fmt"
	"time"
)

// Cache key namespaces. Each namespace has exactly one JSON schema: the
// character list envelope, a single character, or the stats document.
const (
	CharacterListPattern = "characters:*"
	StatsKey             = "stats"
)

// TTLs per namespace.
const (
	CharacterListTTL = 5 * time.Minute
	CharacterTTL     = time.Hour
	StatsTTL         = 10 * time.Minute
)

func CharacterListKey(page, perPage int, sortBy, order string) string {
	return fmt.Sprintf("characters:list:%d:%d:%s:%s", page, perPage, sortBy, order)
}

func CharacterKey(id int) string {
	return fmt.Sprintf("characters:id:%d", id)
}
