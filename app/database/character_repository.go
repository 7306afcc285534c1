package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Timestamps are stored as UTC RFC3339 text; lexicographic order matches
// chronological order, so the column sorts correctly.
const timeLayout = "2006-01-02T15:04:05.000Z"

var _ CharacterRepository = (*SQLCharacterRepository)(nil)

// SQLCharacterRepository handles database operations for characters.
type SQLCharacterRepository struct {
	db *DB
}

func NewCharacterRepository(db *DB) *SQLCharacterRepository {
	return &SQLCharacterRepository{db: db}
}

const upsertCharacterSQL = `
	INSERT INTO characters (
		id, name, status, species, type, gender,
		origin_name, origin_url, location_name, location_url,
		image_url, episode_urls, api_url, created
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name = excluded.name,
		status = excluded.status,
		species = excluded.species,
		type = excluded.type,
		gender = excluded.gender,
		origin_name = excluded.origin_name,
		origin_url = excluded.origin_url,
		location_name = excluded.location_name,
		location_url = excluded.location_url,
		image_url = excluded.image_url,
		episode_urls = excluded.episode_urls,
		api_url = excluded.api_url,
		created = excluded.created,
		updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
`

// UpsertBatch inserts or updates the given characters in one transaction.
// A failure on a single record is logged and skipped; a commit failure
// rolls the whole batch back. Returns the number of records written.
func (r *SQLCharacterRepository) UpsertBatch(ctx context.Context, characters []Character) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertCharacterSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, character := range characters {
		episodeJSON, err := json.Marshal(character.EpisodeURLs)
		if err != nil {
			slog.Error("Failed to encode episode URLs, skipping character", "id", character.ID, "error", err)
			continue
		}

		var created sql.NullString
		if character.Created != nil {
			created = sql.NullString{String: character.Created.UTC().Format(timeLayout), Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			character.ID, character.Name, character.Status, character.Species,
			character.Type, character.Gender,
			character.OriginName, character.OriginURL,
			character.LocationName, character.LocationURL,
			character.ImageURL, string(episodeJSON), character.APIURL, created,
		)
		if err != nil {
			slog.Error("Failed to upsert character, skipping", "id", character.ID, "name", character.Name, "error", err)
			continue
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit character batch: %w", err)
	}

	return count, nil
}

const characterColumns = `
	id, name, status, species, type, gender,
	origin_name, origin_url, location_name, location_url,
	image_url, episode_urls, api_url,
	COALESCE(created, ''), created_at, updated_at
`

// List returns one page of characters plus the total row count.
func (r *SQLCharacterRepository) List(ctx context.Context, opts ListOptions) ([]Character, int, error) {
	column, ok := sortColumns[opts.SortBy]
	if !ok {
		column = "id"
	}

	direction := "ASC"
	if opts.Order == OrderDesc {
		direction = "DESC"
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	perPage := opts.PerPage
	if perPage < 1 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	query := fmt.Sprintf(`
		SELECT %s
		FROM characters
		ORDER BY %s %s
		LIMIT ? OFFSET ?
	`, characterColumns, column, direction)

	rows, err := r.db.QueryContext(ctx, query, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list characters: %w", err)
	}
	defer rows.Close()

	var characters []Character
	for rows.Next() {
		character, err := scanCharacter(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan character row: %w", err)
		}
		characters = append(characters, character)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating character rows: %w", err)
	}

	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	return characters, total, nil
}

var sortColumns = map[string]string{
	SortByID:        "id",
	SortByName:      "name",
	SortByCreatedAt: "created_at",
}

// GetByID returns the character with the given id, or nil when absent.
func (r *SQLCharacterRepository) GetByID(ctx context.Context, id int) (*Character, error) {
	query := fmt.Sprintf("SELECT %s FROM characters WHERE id = ?", characterColumns)

	character, err := scanCharacter(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get character %d: %w", id, err)
	}

	return &character, nil
}

// Count returns the total number of stored characters.
func (r *SQLCharacterRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM characters").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count characters: %w", err)
	}
	return count, nil
}

var groupableFields = map[string]bool{
	"status":      true,
	"species":     true,
	"gender":      true,
	"origin_name": true,
}

// CountByField returns per-value counts grouped by the given column. The
// column must be one of the whitelisted groupable fields.
func (r *SQLCharacterRepository) CountByField(ctx context.Context, field string) (map[string]int, error) {
	if !groupableFields[field] {
		return nil, fmt.Errorf("field %q is not groupable", field)
	}

	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM characters GROUP BY %s", field, field)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count characters by %s: %w", field, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var value string
		var count int
		if err := rows.Scan(&value, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[value] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating count rows: %w", err)
	}

	return counts, nil
}

// LastSyncedAt returns the most recent updated_at across all characters,
// or nil when the table is empty.
func (r *SQLCharacterRepository) LastSyncedAt(ctx context.Context) (*time.Time, error) {
	var raw sql.NullString
	err := r.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM characters").Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to get last sync time: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}

	t, err := parseTime(raw.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last sync time: %w", err)
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row rowScanner) (Character, error) {
	var character Character
	var episodeJSON, created, createdAt, updatedAt string

	err := row.Scan(
		&character.ID, &character.Name, &character.Status, &character.Species,
		&character.Type, &character.Gender,
		&character.OriginName, &character.OriginURL,
		&character.LocationName, &character.LocationURL,
		&character.ImageURL, &episodeJSON, &character.APIURL,
		&created, &createdAt, &updatedAt,
	)
	if err != nil {
		return Character{}, err
	}

	if episodeJSON != "" {
		if err := json.Unmarshal([]byte(episodeJSON), &character.EpisodeURLs); err != nil {
			return Character{}, fmt.Errorf("failed to decode episode URLs for character %d: %w", character.ID, err)
		}
	}

	if created != "" {
		t, err := parseTime(created)
		if err != nil {
			return Character{}, fmt.Errorf("failed to parse created for character %d: %w", character.ID, err)
		}
		character.Created = &t
	}

	if character.CreatedAt, err = parseTime(createdAt); err != nil {
		return Character{}, fmt.Errorf("failed to parse created_at for character %d: %w", character.ID, err)
	}
	if character.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Character{}, fmt.Errorf("failed to parse updated_at for character %d: %w", character.ID, err)
	}

	return character, nil
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}
