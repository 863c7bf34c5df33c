package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/streamfall/streamfall/internal/events"
	"github.com/streamfall/streamfall/internal/media"
	"github.com/streamfall/streamfall/internal/store"
)

// listResponse wraps paginated item listings.
type listResponse struct {
	Items    []*media.Item `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

// listItems returns top-level items, filtered and paginated.
// GET /api/items?state=&type=&search=&sort=&page=&page_size=
func (s *Server) listItems(c echo.Context) error {
	opts := store.ListOptions{
		State:  media.State(c.QueryParam("state")),
		Type:   media.Type(c.QueryParam("type")),
		Search: c.QueryParam("search"),
		Sort:   c.QueryParam("sort"),
	}
	opts.Page, _ = strconv.Atoi(c.QueryParam("page"))
	opts.PageSize, _ = strconv.Atoi(c.QueryParam("page_size"))

	items, total, err := s.deps.Store.List(c.Request().Context(), opts)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if items == nil {
		items = []*media.Item{}
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}

	return c.JSON(http.StatusOK, listResponse{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.PageSize,
	})
}

// getItem returns one item with its full child tree and streams.
// GET /api/items/:id
func (s *Server) getItem(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	item, err := s.deps.Store.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "item not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, item)
}

// addItemByImdb requests a new item by imdb id and admits it to the bus.
// The optional type query parameter defaults to movie; the indexer corrects
// a wrong guess from the metadata lookup.
// POST /api/items/imdb/:imdbID?type=movie|show
func (s *Server) addItemByImdb(c echo.Context) error {
	ctx := c.Request().Context()

	imdbID := c.Param("imdbID")
	if !strings.HasPrefix(imdbID, "tt") {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid imdb id"})
	}

	itemType := media.TypeMovie
	if t := c.QueryParam("type"); t != "" {
		switch media.Type(t) {
		case media.TypeMovie, media.TypeShow:
			itemType = media.Type(t)
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "type must be movie or show"})
		}
	}

	exists, err := s.deps.Store.ExistsByImdbID(ctx, imdbID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if exists {
		return c.JSON(http.StatusConflict, map[string]string{"error": "item already exists"})
	}

	item := media.NewRequested(itemType, imdbID, "api")
	stored, err := s.deps.Store.Upsert(ctx, item)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	s.deps.Bus.Add(ctx, events.NewEvent(events.EmitterManual, stored.ID))

	return c.JSON(http.StatusCreated, stored)
}

// removeItems deletes whole item trees by id, cancelling any in-flight work.
// DELETE /api/items?ids=1,2,3
func (s *Server) removeItems(c echo.Context) error {
	ctx := c.Request().Context()

	raw := strings.Split(c.QueryParam("ids"), ",")
	var ids []int64
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id: " + part})
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "ids query parameter is required"})
	}

	removed := make([]int64, 0, len(ids))
	for _, id := range ids {
		rootID, err := s.deps.Store.RootID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}

		s.deps.Bus.Cancel(ctx, rootID)
		if err := s.deps.Store.Remove(ctx, rootID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		removed = append(removed, rootID)
		s.logger.Info().Int64("itemId", rootID).Msg("Removed item via API")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"removed": len(removed),
		"ids":     removed,
	})
}

// retryItem cancels any pending work for the item's tree and re-admits it.
// POST /api/items/:id/retry
func (s *Server) retryItem(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	rootID, err := s.deps.Store.RootID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "item not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	s.deps.Bus.Cancel(ctx, rootID)
	s.deps.Bus.Add(ctx, events.NewEvent(events.EmitterRetryLibrary, rootID))

	return c.JSON(http.StatusAccepted, map[string]interface{}{"itemId": rootID})
}

// resetItem cancels in-flight work and clears all acquisition progress so
// the tree is re-acquired from scratch. Metadata survives; the retry sweep
// or an explicit retry picks the item up again.
// POST /api/items/:id/reset
func (s *Server) resetItem(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	rootID, err := s.deps.Store.RootID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "item not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	item, err := s.deps.Store.Get(ctx, rootID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	s.deps.Bus.Cancel(ctx, rootID)
	item.Reset(true)

	stored, err := s.deps.Store.Upsert(ctx, item)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	s.logger.Info().Int64("itemId", rootID).Msg("Reset item via API")
	return c.JSON(http.StatusOK, stored)
}
