package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Fixed server-side filter pushed to the upstream API on every crawl page.
const (
	crawlSpecies = "Human"
	crawlStatus  = "Alive"
)

// originFilter is the client-side predicate applied on top of the
// server-side filter: case-insensitive substring match on the origin name.
const originFilter = "earth"

// Client exposes typed operations over a Fetcher, including the full
// paginated crawl.
type Client struct {
	fetcher   Fetcher
	pageDelay time.Duration
}

func NewClient(fetcher Fetcher, pageDelay time.Duration) *Client {
	return &Client{
		fetcher:   fetcher,
		pageDelay: pageDelay,
	}
}

// CharacterQuery carries the query parameters of a character list request.
type CharacterQuery struct {
	Page    int
	Name    string
	Status  string
	Species string
	Gender  string
}

func (q CharacterQuery) values() url.Values {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Name != "" {
		params.Set("name", q.Name)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Species != "" {
		params.Set("species", q.Species)
	}
	if q.Gender != "" {
		params.Set("gender", q.Gender)
	}
	return params
}

// GetCharacter fetches a single character by id.
func (c *Client) GetCharacter(ctx context.Context, id int) (*Character, error) {
	payload, err := c.fetcher.Fetch(ctx, "character/"+strconv.Itoa(id), nil)
	if err != nil {
		return nil, err
	}

	var character Character
	if err := json.Unmarshal(payload, &character); err != nil {
		return nil, fmt.Errorf("failed to decode character %d: %w", id, err)
	}
	if err := character.Validate(); err != nil {
		return nil, fmt.Errorf("invalid character %d: %w", id, err)
	}

	return &character, nil
}

// GetCharacterPage fetches one page of the character list.
func (c *Client) GetCharacterPage(ctx context.Context, query CharacterQuery) (PageInfo, []json.RawMessage, error) {
	payload, err := c.fetcher.Fetch(ctx, "character", query.values())
	if err != nil {
		return PageInfo{}, nil, err
	}

	var page characterPage
	if err := json.Unmarshal(payload, &page); err != nil {
		return PageInfo{}, nil, fmt.Errorf("failed to decode character page: %w", err)
	}

	return page.Info, page.Results, nil
}

// CrawlAll walks every upstream page matching the fixed filter and returns
// the accumulated records in server order. It never fails: an upstream
// error truncates the crawl and whatever was accumulated so far is
// returned.
func (c *Client) CrawlAll(ctx context.Context) []Character {
	var all []Character
	page := 1

	slog.Info("Starting character crawl", "species", crawlSpecies, "status", crawlStatus)

	for {
		info, results, err := c.GetCharacterPage(ctx, CharacterQuery{
			Page:    page,
			Species: crawlSpecies,
			Status:  crawlStatus,
		})
		if err != nil {
			slog.Error("Crawl truncated by upstream error", "page", page, "accumulated", len(all), "error", err)
			break
		}

		if len(results) == 0 {
			break
		}

		matched := c.filterRecords(results)
		all = append(all, matched...)
		slog.Info("Processed page", "page", page, "matched", len(matched), "total", len(all))

		next, ok := nextPageNumber(info.Next, page)
		if !ok {
			break
		}
		page = next

		// Courtesy pause between pages.
		if err := sleepCtx(ctx, c.pageDelay); err != nil {
			slog.Warn("Crawl interrupted", "page", page, "error", err)
			break
		}
	}

	slog.Info("Finished character crawl", "total", len(all))
	return all
}

// Healthcheck probes the upstream API with a single unfiltered page request.
func (c *Client) Healthcheck(ctx context.Context) Health {
	info, _, err := c.GetCharacterPage(ctx, CharacterQuery{})
	if err != nil {
		return Health{Status: "unhealthy", Error: err.Error()}
	}

	return Health{
		Status:          "healthy",
		TotalCharacters: info.Count,
		Pages:           info.Pages,
	}
}

// filterRecords decodes raw records and keeps those whose origin name
// matches the client-side predicate. Malformed records are skipped.
func (c *Client) filterRecords(results []json.RawMessage) []Character {
	matched := make([]Character, 0, len(results))

	for _, raw := range results {
		var character Character
		if err := json.Unmarshal(raw, &character); err != nil {
			slog.Warn("Skipping malformed character record", "error", err)
			continue
		}
		if err := character.Validate(); err != nil {
			slog.Warn("Skipping invalid character record", "error", err)
			continue
		}

		if strings.Contains(strings.ToLower(character.Origin.Name), originFilter) {
			matched = append(matched, character)
		}
	}

	return matched
}

// nextPageNumber parses the page number out of the upstream "next" link.
// A missing link, an unparsable page parameter, or a page number not
// strictly greater than the current one all terminate the crawl; the
// last guards against malformed or repeating pagination links.
func nextPageNumber(next string, current int) (int, bool) {
	if next == "" {
		return 0, false
	}

	parsed, err := url.Parse(next)
	if err != nil {
		return 0, false
	}

	page, err := strconv.Atoi(parsed.Query().Get("page"))
	if err != nil {
		return 0, false
	}

	if page <= current {
		return 0, false
	}

	return page, true
}
