package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

const (
	mdblistAPIURL = "https://mdblist.com/api"

	mdblistKeyLen = 25
)

// Mdblist polls mdblist.com lists. Calls are paced against the account's
// daily request quota, discovered at validation time.
type Mdblist struct {
	cfg        config.MdblistConfig
	httpClient *http.Client
	logger     zerolog.Logger
	seen       *seenSet
	baseURL    string

	mu      sync.Mutex
	limiter ratelimit.Limiter
}

// NewMdblist creates the Mdblist content source. Until Validate has read
// the account quota the pace stays at a conservative default.
func NewMdblist(cfg config.MdblistConfig, logger zerolog.Logger) *Mdblist {
	return &Mdblist{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "mdblist").Logger(),
		seen:       newSeenSet(),
		baseURL:    mdblistAPIURL,
		limiter:    ratelimit.New(30, ratelimit.Per(2*time.Minute)),
	}
}

func (m *Mdblist) Name() string { return "mdblist" }

func (m *Mdblist) Enabled() bool { return m.cfg.Enabled }

func (m *Mdblist) UpdateInterval() string { return m.cfg.UpdateInterval }

// Validate checks the api key against the user endpoint and derives the
// request pace from the account's daily quota. Mdblist keys are 25
// characters.
func (m *Mdblist) Validate(ctx context.Context) error {
	if len(m.cfg.APIKey) != mdblistKeyLen {
		return fmt.Errorf("mdblist api key must be %d characters", mdblistKeyLen)
	}
	if len(m.cfg.Lists) == 0 {
		return errors.New("no mdblist lists configured")
	}

	var user struct {
		Error  string `json:"error"`
		Limits struct {
			APIRequests int `json:"api_requests"`
		} `json:"limits"`
	}
	reqURL := m.baseURL + "/user?apikey=" + url.QueryEscape(m.cfg.APIKey)
	if err := getJSON(ctx, m.httpClient, reqURL, nil, &user); err != nil {
		return fmt.Errorf("mdblist unreachable: %w", err)
	}
	if user.Error != "" {
		return fmt.Errorf("mdblist rejected the api key: %s", user.Error)
	}

	if daily := user.Limits.APIRequests; daily > 0 {
		perWindow := daily / 720 // daily quota spread across 2-minute windows
		if perWindow < 1 {
			perWindow = 1
		}
		m.mu.Lock()
		m.limiter = ratelimit.New(perWindow, ratelimit.Per(2*time.Minute))
		m.mu.Unlock()
	}
	return nil
}

type mdblistEntry struct {
	Title     string `json:"title"`
	ImdbID    string `json:"imdb_id"`
	MediaType string `json:"mediatype"`
}

// Run fetches every configured list and yields titles not seen before.
// Lists are named by numeric id or by their mdblist.com URL.
func (m *Mdblist) Run(ctx context.Context) ([]*media.Item, error) {
	var items []*media.Item
	for _, list := range m.cfg.Lists {
		if list == "" {
			continue
		}
		entries, err := m.listItems(ctx, list)
		if err != nil {
			m.logger.Warn().Err(err).Str("list", list).Msg("failed to fetch mdblist list")
			continue
		}
		for _, entry := range entries {
			if entry.ImdbID == "" || !m.seen.Add(entry.ImdbID) {
				continue
			}
			items = append(items, media.NewRequested(typeForMdblist(entry.MediaType), entry.ImdbID, m.Name()))
		}
	}
	return items, nil
}

func (m *Mdblist) listItems(ctx context.Context, list string) ([]mdblistEntry, error) {
	reqURL := fmt.Sprintf("%s/lists/%s/items?apikey=%s", m.baseURL, url.PathEscape(list), url.QueryEscape(m.cfg.APIKey))
	if strings.HasPrefix(list, "http") {
		// URL-form lists serve their items on a /json suffix.
		reqURL = fmt.Sprintf("%s/json?apikey=%s", strings.TrimRight(list, "/"), url.QueryEscape(m.cfg.APIKey))
	}

	m.pace().Take()

	var entries []mdblistEntry
	if err := getJSON(ctx, m.httpClient, reqURL, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *Mdblist) pace() ratelimit.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limiter
}

func typeForMdblist(mediaType string) media.Type {
	if mediaType == "show" {
		return media.TypeShow
	}
	return media.TypeMovie
}
