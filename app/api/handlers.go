package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/portalwatch/portalwatch/app/cache"
	"github.com/portalwatch/portalwatch/app/database"
	"github.com/portalwatch/portalwatch/app/metrics"
	"github.com/portalwatch/portalwatch/app/sync"
	"github.com/portalwatch/portalwatch/app/upstream"
)

func NewHandler(db *database.DB, repo database.CharacterRepository, cacheClient *cache.Cache,
	upstreamClient *upstream.Client, syncer *sync.Syncer) *Handler {
	return &Handler{
		db:       db,
		repo:     repo,
		cache:    cacheClient,
		upstream: upstreamClient,
		syncer:   syncer,
	}
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

func (h *Handler) GetCharacters(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}

	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if err != nil || perPage < 1 || perPage > maxPerPage {
		c.JSON(http.StatusBadRequest, gin.H{"error": "per_page must be between 1 and 100"})
		return
	}

	sortBy := c.DefaultQuery("sort", database.SortByID)
	if sortBy != database.SortByID && sortBy != database.SortByName && sortBy != database.SortByCreatedAt {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort must be one of: id, name, created_at"})
		return
	}

	order := c.DefaultQuery("order", database.OrderAsc)
	if order != database.OrderAsc && order != database.OrderDesc {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order must be one of: asc, desc"})
		return
	}

	cacheKey := cache.CharacterListKey(page, perPage, sortBy, order)
	if cached, ok := h.cache.Get(c.Request.Context(), cacheKey); ok {
		metrics.CacheHitsTotal.WithLabelValues("characters_list").Inc()
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
		return
	}
	metrics.CacheMissesTotal.WithLabelValues("characters_list").Inc()

	characters, total, err := h.repo.List(c.Request.Context(), database.ListOptions{
		Page:    page,
		PerPage: perPage,
		SortBy:  sortBy,
		Order:   order,
	})
	if err != nil {
		slog.Error("Database error", "operation", "list_characters", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	totalPages := (total + perPage - 1) / perPage
	response := CharacterListResponse{
		Characters: make([]CharacterResponse, 0, len(characters)),
		Pagination: Pagination{
			Page:       page,
			PerPage:    perPage,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
	}
	for _, character := range characters {
		response.Characters = append(response.Characters, toCharacterResponse(character))
	}

	h.respondAndCache(c, cacheKey, cache.CharacterListTTL, response)
}

func (h *Handler) GetCharacterByID(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "character id must be a positive integer"})
		return
	}

	cacheKey := cache.CharacterKey(id)
	if cached, ok := h.cache.Get(c.Request.Context(), cacheKey); ok {
		metrics.CacheHitsTotal.WithLabelValues("characters_id").Inc()
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
		return
	}
	metrics.CacheMissesTotal.WithLabelValues("characters_id").Inc()

	character, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		slog.Error("Database error", "operation", "get_character", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if character == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Character not found"})
		return
	}

	h.respondAndCache(c, cacheKey, cache.CharacterTTL, toCharacterResponse(*character))
}

func (h *Handler) GetStats(c *gin.Context) {
	if cached, ok := h.cache.Get(c.Request.Context(), cache.StatsKey); ok {
		metrics.CacheHitsTotal.WithLabelValues("stats").Inc()
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
		return
	}
	metrics.CacheMissesTotal.WithLabelValues("stats").Inc()

	ctx := c.Request.Context()

	total, err := h.repo.Count(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "count_characters", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	species, err := h.repo.CountByField(ctx, "species")
	if err != nil {
		slog.Error("Database error", "operation", "species_breakdown", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	status, err := h.repo.CountByField(ctx, "status")
	if err != nil {
		slog.Error("Database error", "operation", "status_breakdown", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	lastSync, err := h.repo.LastSyncedAt(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "last_sync", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.respondAndCache(c, cache.StatsKey, cache.StatsTTL, StatsResponse{
		TotalCharacters:  total,
		SpeciesBreakdown: species,
		StatusBreakdown:  status,
		LastSync:         lastSync,
	})
}

func (h *Handler) TriggerSync(c *gin.Context) {
	if h.syncer.Running() {
		c.JSON(http.StatusConflict, gin.H{
			"message": "A synchronization is already running",
			"status":  "in_progress",
		})
		return
	}

	go func() {
		count, err := h.syncer.Run(context.Background(), "manual")
		if err != nil {
			slog.Error("Manual sync failed", "error", err)
			return
		}
		slog.Info("Manual sync completed", "synced", count)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Synchronization started",
		"status":  "in_progress",
	})
}

func (h *Handler) Healthcheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	checks := gin.H{}
	overall := "healthy"

	degrade := func() {
		if overall == "healthy" {
			overall = "degraded"
		}
	}

	// Database connectivity is load-bearing for every read path.
	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = gin.H{"status": "unhealthy", "error": err.Error()}
		overall = "unhealthy"
	} else {
		checks["database"] = gin.H{"status": "healthy"}
	}

	cacheHealth := h.cache.Health(ctx)
	checks["cache"] = cacheHealth
	if cacheHealth["status"] == "unhealthy" {
		degrade()
	}

	upstreamHealth := h.upstream.Healthcheck(ctx)
	checks["upstream_api"] = upstreamHealth
	if upstreamHealth.Status != "healthy" {
		degrade()
	}

	if total, err := h.repo.Count(ctx); err == nil {
		data := gin.H{"status": "healthy", "total_characters": total}
		if lastSync, err := h.repo.LastSyncedAt(ctx); err == nil && lastSync != nil {
			data["last_sync"] = lastSync.Format(time.RFC3339)
		}
		checks["data"] = data
	} else {
		checks["data"] = gin.H{"status": "unhealthy", "error": err.Error()}
		degrade()
	}

	statusCode := http.StatusOK
	if overall == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// respondAndCache writes the response and stores the exact same payload in
// the cache, so cached and fresh responses are byte-identical.
func (h *Handler) respondAndCache(c *gin.Context, key string, ttl time.Duration, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to encode response", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.cache.Set(c.Request.Context(), key, string(data), ttl)
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}
