package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/portalwatch/portalwatch/app/database"
	"github.com/portalwatch/portalwatch/app/sync"
	"github.com/portalwatch/portalwatch/app/upstream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRepository struct {
	characters []database.Character
	lastSync   *time.Time
	failAll    bool
}

var errStubFailure = errors.New("database failure")

func (s *stubRepository) UpsertBatch(ctx context.Context, characters []database.Character) (int, error) {
	if s.failAll {
		return 0, errStubFailure
	}
	return len(characters), nil
}

func (s *stubRepository) List(ctx context.Context, opts database.ListOptions) ([]database.Character, int, error) {
	if s.failAll {
		return nil, 0, errStubFailure
	}
	start := (opts.Page - 1) * opts.PerPage
	if start >= len(s.characters) {
		return nil, len(s.characters), nil
	}
	end := start + opts.PerPage
	if end > len(s.characters) {
		end = len(s.characters)
	}
	return s.characters[start:end], len(s.characters), nil
}

func (s *stubRepository) GetByID(ctx context.Context, id int) (*database.Character, error) {
	if s.failAll {
		return nil, errStubFailure
	}
	for _, character := range s.characters {
		if character.ID == id {
			return &character, nil
		}
	}
	return nil, nil
}

func (s *stubRepository) Count(ctx context.Context) (int, error) {
	if s.failAll {
		return 0, errStubFailure
	}
	return len(s.characters), nil
}

func (s *stubRepository) CountByField(ctx context.Context, field string) (map[string]int, error) {
	if s.failAll {
		return nil, errStubFailure
	}
	counts := make(map[string]int)
	for _, character := range s.characters {
		switch field {
		case "species":
			counts[character.Species]++
		case "status":
			counts[character.Status]++
		}
	}
	return counts, nil
}

func (s *stubRepository) LastSyncedAt(ctx context.Context) (*time.Time, error) {
	if s.failAll {
		return nil, errStubFailure
	}
	return s.lastSync, nil
}

// stubFetcher serves a canned upstream page for healthcheck probes.
type stubFetcher struct {
	err error
}

func (s *stubFetcher) Fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte(`{"info":{"count":100,"pages":5},"results":[]}`), nil
}

type stubCrawler struct{}

func (s *stubCrawler) CrawlAll(ctx context.Context) []upstream.Character {
	return nil
}

func storedCharacter(id int, name string) database.Character {
	return database.Character{
		ID:         id,
		Name:       name,
		Status:     "Alive",
		Species:    "Human",
		OriginName: "Earth (C-137)",
		ImageURL:   "https://example.com/avatar.jpeg",
		CreatedAt:  time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func newTestServer(t *testing.T, repo database.CharacterRepository, upstreamErr error) *gin.Engine {
	t.Helper()

	db, err := database.NewConnection(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	upstreamClient := upstream.NewClient(&stubFetcher{err: upstreamErr}, 0)
	syncer := sync.NewSyncer(&stubCrawler{}, repo, nil)

	handler := NewHandler(db, repo, nil, upstreamClient, syncer)
	return NewServer(handler, "test")
}

func doRequest(server *gin.Engine, method, target string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(method, target, nil)
	server.ServeHTTP(recorder, request)
	return recorder
}

func TestGetCharactersEnvelope(t *testing.T) {
	repo := &stubRepository{characters: []database.Character{
		storedCharacter(1, "Rick Sanchez"),
		storedCharacter(2, "Morty Smith"),
		storedCharacter(3, "Summer Smith"),
	}}
	server := newTestServer(t, repo, nil)

	recorder := doRequest(server, http.MethodGet, "/characters?page=1&per_page=2")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response CharacterListResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(response.Characters) != 2 {
		t.Errorf("Expected 2 characters, got %d", len(response.Characters))
	}
	if response.Pagination.Total != 3 {
		t.Errorf("Expected total 3, got %d", response.Pagination.Total)
	}
	if response.Pagination.TotalPages != 2 {
		t.Errorf("Expected 2 total pages, got %d", response.Pagination.TotalPages)
	}
	if !response.Pagination.HasNext {
		t.Error("Expected has_next true on page 1 of 2")
	}
	if response.Pagination.HasPrev {
		t.Error("Expected has_prev false on page 1")
	}
	if response.Characters[0].Name != "Rick Sanchez" {
		t.Errorf("Expected first character Rick Sanchez, got %q", response.Characters[0].Name)
	}
}

func TestGetCharactersValidation(t *testing.T) {
	server := newTestServer(t, &stubRepository{}, nil)

	tests := []struct {
		name   string
		target string
	}{
		{"zero page", "/characters?page=0"},
		{"negative page", "/characters?page=-1"},
		{"non-numeric page", "/characters?page=abc"},
		{"zero per_page", "/characters?per_page=0"},
		{"oversized per_page", "/characters?per_page=101"},
		{"unknown sort", "/characters?sort=species"},
		{"unknown order", "/characters?order=sideways"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := doRequest(server, http.MethodGet, tt.target)
			if recorder.Code != http.StatusBadRequest {
				t.Errorf("Expected 400 for %s, got %d", tt.target, recorder.Code)
			}
		})
	}
}

func TestGetCharactersEmptyStore(t *testing.T) {
	server := newTestServer(t, &stubRepository{}, nil)

	recorder := doRequest(server, http.MethodGet, "/characters")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200 for empty store, got %d", recorder.Code)
	}

	var response CharacterListResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Characters) != 0 {
		t.Errorf("Expected empty character list, got %d", len(response.Characters))
	}
	if response.Pagination.TotalPages != 0 {
		t.Errorf("Expected 0 total pages, got %d", response.Pagination.TotalPages)
	}
}

func TestGetCharactersDatabaseError(t *testing.T) {
	server := newTestServer(t, &stubRepository{failAll: true}, nil)

	recorder := doRequest(server, http.MethodGet, "/characters")
	if recorder.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 on database failure, got %d", recorder.Code)
	}
}

func TestGetCharacterByID(t *testing.T) {
	repo := &stubRepository{characters: []database.Character{storedCharacter(42, "Rick Sanchez")}}
	server := newTestServer(t, repo, nil)

	recorder := doRequest(server, http.MethodGet, "/characters/42")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}

	var response CharacterResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.ID != 42 {
		t.Errorf("Expected id 42, got %d", response.ID)
	}
	if response.OriginName != "Earth (C-137)" {
		t.Errorf("Expected origin name, got %q", response.OriginName)
	}
}

func TestGetCharacterByIDNotFound(t *testing.T) {
	server := newTestServer(t, &stubRepository{}, nil)

	recorder := doRequest(server, http.MethodGet, "/characters/999")
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing character, got %d", recorder.Code)
	}
}

func TestGetCharacterByIDInvalid(t *testing.T) {
	server := newTestServer(t, &stubRepository{}, nil)

	for _, target := range []string{"/characters/abc", "/characters/0", "/characters/-5"} {
		recorder := doRequest(server, http.MethodGet, target)
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for %s, got %d", target, recorder.Code)
		}
	}
}

func TestGetStats(t *testing.T) {
	lastSync := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	dead := storedCharacter(3, "Old Rick")
	dead.Status = "Dead"
	repo := &stubRepository{
		characters: []database.Character{
			storedCharacter(1, "Rick Sanchez"),
			storedCharacter(2, "Morty Smith"),
			dead,
		},
		lastSync: &lastSync,
	}
	server := newTestServer(t, repo, nil)

	recorder := doRequest(server, http.MethodGet, "/stats")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}

	var response StatsResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.TotalCharacters != 3 {
		t.Errorf("Expected 3 total characters, got %d", response.TotalCharacters)
	}
	if response.StatusBreakdown["Alive"] != 2 || response.StatusBreakdown["Dead"] != 1 {
		t.Errorf("Unexpected status breakdown: %v", response.StatusBreakdown)
	}
	if response.SpeciesBreakdown["Human"] != 3 {
		t.Errorf("Unexpected species breakdown: %v", response.SpeciesBreakdown)
	}
	if response.LastSync == nil || !response.LastSync.Equal(lastSync) {
		t.Errorf("Expected last sync %v, got %v", lastSync, response.LastSync)
	}
}

func TestTriggerSync(t *testing.T) {
	server := newTestServer(t, &stubRepository{}, nil)

	recorder := doRequest(server, http.MethodPost, "/sync")
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", recorder.Code)
	}

	var response map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "in_progress" {
		t.Errorf("Expected status in_progress, got %q", response["status"])
	}
}

func TestTriggerSyncConflict(t *testing.T) {
	// Occupy the single sync slot, then trigger via the API.
	block := make(chan struct{})
	crawler := &blockingCrawler{block: block}
	repo := &stubRepository{}

	db, err := database.NewConnection(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	syncer := sync.NewSyncer(crawler, repo, nil)
	handler := NewHandler(db, repo, nil, upstream.NewClient(&stubFetcher{}, 0), syncer)
	server := NewServer(handler, "test")

	done := make(chan struct{})
	go func() {
		syncer.Run(context.Background(), "test")
		close(done)
	}()

	for i := 0; i < 100 && !syncer.Running(); i++ {
		time.Sleep(time.Millisecond)
	}

	recorder := doRequest(server, http.MethodPost, "/sync")
	if recorder.Code != http.StatusConflict {
		t.Errorf("Expected 409 while sync is running, got %d", recorder.Code)
	}

	close(block)
	<-done
}

type blockingCrawler struct {
	block chan struct{}
}

func (b *blockingCrawler) CrawlAll(ctx context.Context) []upstream.Character {
	<-b.block
	return nil
}

func TestHealthcheckHealthy(t *testing.T) {
	repo := &stubRepository{characters: []database.Character{storedCharacter(1, "Rick Sanchez")}}
	server := newTestServer(t, repo, nil)

	recorder := doRequest(server, http.MethodGet, "/healthcheck")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", response["status"])
	}

	checks, ok := response["checks"].(map[string]any)
	if !ok {
		t.Fatal("Expected checks object in response")
	}
	for _, name := range []string{"database", "cache", "upstream_api", "data"} {
		if _, ok := checks[name]; !ok {
			t.Errorf("Expected %s check in healthcheck response", name)
		}
	}
}

func TestHealthcheckDegradedOnUpstreamFailure(t *testing.T) {
	repo := &stubRepository{}
	server := newTestServer(t, repo, upstream.ErrCircuitOpen)

	recorder := doRequest(server, http.MethodGet, "/healthcheck")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200 for degraded service, got %d", recorder.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "degraded" {
		t.Errorf("Expected degraded status on upstream failure, got %v", response["status"])
	}
}

func TestNotFoundRoute(t *testing.T) {
	server := newTestServer(t, &stubRepository{}, nil)

	recorder := doRequest(server, http.MethodGet, "/nonsense")
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown route, got %d", recorder.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, &stubRepository{}, nil)

	recorder := doRequest(server, http.MethodGet, "/metrics")
	if recorder.Code != http.StatusOK {
		t.Errorf("Expected 200 from metrics endpoint, got %d", recorder.Code)
	}
	if recorder.Body.Len() == 0 {
		t.Error("Expected metrics exposition output")
	}
}
