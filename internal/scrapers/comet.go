package scrapers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

// cometIndexers is the indexer set requested from the instance.
var cometIndexers = []string{"bitsearch", "eztv", "thepiratebay", "therarbg", "yts"}

var cometHashPattern = regexp.MustCompile(`[a-fA-F0-9]{40}`)

// Comet scrapes a Comet instance. Comet encodes the user settings as plain
// base64 JSON in the URL path, no server round trip needed.
type Comet struct {
	httpClient *http.Client
	config     config.CometConfig
	encoded    string
	limiter    ratelimit.Limiter
	logger     zerolog.Logger
}

// NewComet creates a Comet scraper. The debrid key lets the instance report
// which results are already cached on the account.
func NewComet(cfg config.CometConfig, debridKey string, logger zerolog.Logger) (*Comet, error) {
	if cfg.URL == "" {
		return nil, errors.New("comet URL is not configured")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}

	settings, err := json.Marshal(map[string]interface{}{
		"indexers":                  cometIndexers,
		"maxResults":                0,
		"resolutions":               []string{"All"},
		"languages":                 []string{"All"},
		"debridService":             "realdebrid",
		"debridApiKey":              debridKey,
		"debridStreamProxyPassword": "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}

	return &Comet{
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		config:     cfg,
		encoded:    base64.StdEncoding.EncodeToString(settings),
		limiter:    ratelimit.New(1, ratelimit.Per(5*time.Second)),
		logger:     logger.With().Str("scraper", "comet").Logger(),
	}, nil
}

// Name returns the provider name.
func (s *Comet) Name() string {
	return "comet"
}

// Scrape queries the instance for streams matching the item.
func (s *Comet) Scrape(ctx context.Context, item *media.Item) ([]Candidate, error) {
	target, ok := stremioTargetFor(item)
	if !ok {
		return nil, nil
	}
	s.limiter.Take()

	reqURL := fmt.Sprintf("%s/%s/stream/%s/%s%s.json",
		strings.TrimRight(s.config.URL, "/"), s.encoded,
		target.scrapeType, target.imdbID, target.identifier)

	var response struct {
		Streams []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"streams"`
	}
	if err := getJSON(ctx, s.httpClient, reqURL, nil, &response); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(response.Streams))
	for _, stream := range response.Streams {
		if stream.Title == "Invalid Comet config." {
			return nil, errors.New("comet rejected the encoded settings")
		}
		// The stream URL embeds the settings blob as well, so the infohash
		// is the last 40-char hex run, right after the playback segment.
		matches := cometHashPattern.FindAllString(stream.URL, -1)
		if len(matches) == 0 {
			continue
		}
		infohash := matches[len(matches)-1]

		rawTitle := stream.Title
		if idx := strings.Index(rawTitle, "\n"); idx >= 0 {
			rawTitle = rawTitle[:idx]
		}
		if rawTitle == "" {
			continue
		}
		candidates = append(candidates, Candidate{Infohash: infohash, RawTitle: rawTitle})
	}
	return candidates, nil
}
