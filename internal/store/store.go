// Package store persists media item trees in SQLite. Each tree is a show
// with its seasons and episodes, or a standalone movie; writes reconcile
// against the stored copy so acquisition progress is never lost.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/media"
)

var ErrNotFound = errors.New("media item not found")

// Store provides transactional access to the media item library.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New creates a new store.
func New(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

const itemColumns = `m.id, m.type, m.parent_id, m.number, m.imdb_id, m.tmdb_id, m.tvdb_id,
	m.title, m.year, m.aired_at, m.genres, m.language, m.country, m.network, m.is_anime,
	m.requested_at, m.requested_by, m.overseerr_id, m.indexed_at,
	m.scraped_at, m.scraped_times, m.symlinked, m.symlinked_at, m.symlinked_times,
	m.file, m.folder, m.alternative_folder, m.active_stream,
	m.key, m.guid, m.update_folder, m.last_state`

// Get retrieves the item by id with its full tree loaded: descendants,
// streams and the parent chain up to the root. The returned pointer is the
// requested node, not necessarily the tree root.
func (s *Store) Get(ctx context.Context, id int64) (*media.Item, error) {
	rootID, err := s.RootID(ctx, id)
	if err != nil {
		return nil, err
	}

	root, err := s.loadTree(ctx, rootID)
	if err != nil {
		return nil, err
	}

	var found *media.Item
	root.Walk(func(node *media.Item) {
		if node.ID == id {
			found = node
		}
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// GetByImdbID retrieves a top-level movie or show by imdb id with its full
// tree loaded.
func (s *Store) GetByImdbID(ctx context.Context, imdbID string) (*media.Item, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM media_items WHERE imdb_id = ? AND parent_id IS NULL`, imdbID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up item by imdb id: %w", err)
	}
	return s.loadTree(ctx, id)
}

// Exists reports whether an item with the given id is stored.
func (s *Store) Exists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media_items WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check item existence: %w", err)
	}
	return n > 0, nil
}

// ExistsByImdbID reports whether a top-level item with the given imdb id is
// stored.
func (s *Store) ExistsByImdbID(ctx context.Context, imdbID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media_items WHERE imdb_id = ? AND parent_id IS NULL`, imdbID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check item existence: %w", err)
	}
	return n > 0, nil
}

// RootID resolves the top-level ancestor of the given item.
func (s *Store) RootID(ctx context.Context, id int64) (int64, error) {
	var rootID int64
	err := s.db.QueryRowContext(ctx, `
		WITH RECURSIVE up(id, parent_id) AS (
			SELECT id, parent_id FROM media_items WHERE id = ?
			UNION ALL
			SELECT m.id, m.parent_id FROM media_items m JOIN up u ON m.id = u.parent_id
		)
		SELECT id FROM up WHERE parent_id IS NULL`, id).Scan(&rootID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to resolve tree root: %w", err)
	}
	return rootID, nil
}

// FamilyIDs returns the ids of every item in the same tree as id: the root
// and all of its descendants. Used by the event bus to refuse overlapping
// work on a tree.
func (s *Store) FamilyIDs(ctx context.Context, id int64) ([]int64, error) {
	rootID, err := s.RootID(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM media_items WHERE id = ?
			UNION ALL
			SELECT m.id FROM media_items m JOIN tree t ON m.parent_id = t.id
		)
		SELECT id FROM tree`, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tree ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var nodeID int64
		if err := rows.Scan(&nodeID); err != nil {
			return nil, fmt.Errorf("failed to scan tree id: %w", err)
		}
		ids = append(ids, nodeID)
	}
	return ids, rows.Err()
}

// Upsert persists the item tree and returns the canonical stored copy.
//
// Items that already carry ids are written through as-is; new nodes inside
// the tree are inserted. An id-less top-level item is reconciled against any
// stored copy with the same imdb id: the stored tree is kept, missing
// children are filled in and absent metadata attributes are copied over.
// Every node's derived state is written to last_state.
func (s *Store) Upsert(ctx context.Context, item *media.Item) (*media.Item, error) {
	canonical := item

	if item.ID == 0 && item.Parent == nil {
		stored, err := s.GetByImdbID(ctx, item.ImdbID)
		switch {
		case err == nil:
			stored.FillInMissingChildren(item)
			stored.CopyMissingAttributes(item)
			canonical = stored
		case errors.Is(err, ErrNotFound):
			// first sighting, plain insert
		default:
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	var walkErr error
	canonical.Walk(func(node *media.Item) {
		if walkErr != nil {
			return
		}
		walkErr = s.saveNode(ctx, tx, node)
	})
	if walkErr != nil {
		return nil, walkErr
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return canonical, nil
}

// saveNode inserts or updates a single node and syncs its streams. Parents
// are saved before children by the pre-order walk, so parent ids are always
// available.
func (s *Store) saveNode(ctx context.Context, tx *sql.Tx, node *media.Item) error {
	if node.Parent != nil {
		node.ParentID = node.Parent.ID
	}

	if node.ID == 0 && node.ParentID != 0 {
		// A fresh season or episode may already exist from an earlier index
		// pass; adopt its row instead of violating the unique number index.
		var existing int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM media_items WHERE parent_id = ? AND type = ? AND number = ?`,
			node.ParentID, string(node.Type), node.Number).Scan(&existing)
		if err == nil {
			node.ID = existing
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to match child row: %w", err)
		}
	}

	genres, err := json.Marshal(node.Genres)
	if err != nil {
		return fmt.Errorf("failed to marshal genres: %w", err)
	}
	var activeStream sql.NullString
	if node.ActiveStream != nil {
		bytes, err := json.Marshal(node.ActiveStream)
		if err != nil {
			return fmt.Errorf("failed to marshal active stream: %w", err)
		}
		activeStream = sql.NullString{String: string(bytes), Valid: true}
	}

	args := []any{
		string(node.Type),
		nullInt64(node.ParentID),
		node.Number,
		nullString(node.ImdbID),
		nullString(node.TmdbID),
		nullString(node.TvdbID),
		nullString(node.Title),
		node.Year,
		nullTime(node.AiredAt),
		string(genres),
		nullString(node.Language),
		nullString(node.Country),
		nullString(node.Network),
		node.IsAnime,
		nullTime(node.RequestedAt),
		nullString(node.RequestedBy),
		node.OverseerrID,
		nullTime(node.IndexedAt),
		nullTime(node.ScrapedAt),
		node.ScrapedTimes,
		node.Symlinked,
		nullTime(node.SymlinkedAt),
		node.SymlinkedTimes,
		nullString(node.File),
		nullString(node.Folder),
		nullString(node.AlternativeFolder),
		activeStream,
		nullString(node.Key),
		nullString(node.Guid),
		nullString(node.UpdateFolder),
		string(node.State()),
	}

	if node.ID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO media_items (
				type, parent_id, number, imdb_id, tmdb_id, tvdb_id,
				title, year, aired_at, genres, language, country, network, is_anime,
				requested_at, requested_by, overseerr_id, indexed_at,
				scraped_at, scraped_times, symlinked, symlinked_at, symlinked_times,
				file, folder, alternative_folder, active_stream,
				key, guid, update_folder, last_state
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			args...)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted id: %w", err)
		}
		node.ID = id
	} else {
		_, err := tx.ExecContext(ctx, `
			UPDATE media_items SET
				type = ?, parent_id = ?, number = ?, imdb_id = ?, tmdb_id = ?, tvdb_id = ?,
				title = ?, year = ?, aired_at = ?, genres = ?, language = ?, country = ?, network = ?, is_anime = ?,
				requested_at = ?, requested_by = ?, overseerr_id = ?, indexed_at = ?,
				scraped_at = ?, scraped_times = ?, symlinked = ?, symlinked_at = ?, symlinked_times = ?,
				file = ?, folder = ?, alternative_folder = ?, active_stream = ?,
				key = ?, guid = ?, update_folder = ?, last_state = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			append(args, node.ID)...)
		if err != nil {
			return fmt.Errorf("failed to update item: %w", err)
		}
	}

	return s.saveStreams(ctx, tx, node)
}

// saveStreams replaces the stored stream rows for a node with its in-memory
// set.
func (s *Store) saveStreams(ctx context.Context, tx *sql.Tx, node *media.Item) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM streams WHERE media_item_id = ?`, node.ID); err != nil {
		return fmt.Errorf("failed to clear streams: %w", err)
	}
	for _, stream := range node.Streams {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO streams (media_item_id, infohash, raw_title, rank, fetch_ok)
			VALUES (?, ?, ?, ?, ?)`,
			node.ID, stream.Infohash, stream.RawTitle, stream.Rank, stream.FetchOK)
		if err != nil {
			return fmt.Errorf("failed to insert stream: %w", err)
		}
	}
	return nil
}

// SaveLastState writes the derived state of every node in the item's tree.
func (s *Store) SaveLastState(ctx context.Context, item *media.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin state save: %w", err)
	}
	defer tx.Rollback()

	var walkErr error
	item.Walk(func(node *media.Item) {
		if walkErr != nil || node.ID == 0 {
			return
		}
		_, walkErr = tx.ExecContext(ctx,
			`UPDATE media_items SET last_state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			string(node.State()), node.ID)
	})
	if walkErr != nil {
		return fmt.Errorf("failed to save state: %w", walkErr)
	}

	return tx.Commit()
}

// Remove deletes the item and all descendants. Streams go with them through
// the cascade.
func (s *Store) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read remove result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	s.logger.Debug().Int64("id", id).Msg("Removed item tree")
	return nil
}

// IterRetryIDs streams the ids of top-level items that have not finished,
// newest requests first, in batches of batchSize. Completed and Unreleased
// items are excluded. fn is called once per batch; returning an error stops
// the iteration.
func (s *Store) IterRetryIDs(ctx context.Context, batchSize int, fn func(ids []int64) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM media_items
		WHERE parent_id IS NULL
		  AND type IN ('movie', 'show')
		  AND last_state NOT IN (?, ?)
		ORDER BY requested_at DESC`,
		string(media.StateCompleted), string(media.StateUnreleased))
	if err != nil {
		return fmt.Errorf("failed to query retry candidates: %w", err)
	}
	defer rows.Close()

	batch := make([]int64, 0, batchSize)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan retry id: %w", err)
		}
		batch = append(batch, id)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]int64, 0, batchSize)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate retry candidates: %w", err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// CountByState returns the number of stored items per derived state, over
// every node type.
func (s *Store) CountByState(ctx context.Context) (map[media.State]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT last_state, COUNT(*) FROM media_items GROUP BY last_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[media.State]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[media.State(state)] = n
	}
	return counts, rows.Err()
}

// CountByType returns the number of stored items per node type.
func (s *Store) CountByType(ctx context.Context) (map[media.Type]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM media_items GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[media.Type]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		counts[media.Type(typ)] = n
	}
	return counts, rows.Err()
}

// IncompleteRetries maps node id to scrape attempt count for every node
// that has been scraped at least once without completing.
func (s *Store) IncompleteRetries(ctx context.Context) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scraped_times FROM media_items
		 WHERE scraped_times > 0 AND last_state != ?`, string(media.StateCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete retries: %w", err)
	}
	defer rows.Close()

	retries := make(map[int64]int)
	for rows.Next() {
		var id int64
		var times int
		if err := rows.Scan(&id, &times); err != nil {
			return nil, fmt.Errorf("failed to scan retry count: %w", err)
		}
		retries[id] = times
	}
	return retries, rows.Err()
}

// OverseerrLinkedIDs maps the Overseerr request id of every linked top-level
// item to its item id, for pruning requests deleted upstream.
func (s *Store) OverseerrLinkedIDs(ctx context.Context) (map[int64]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT overseerr_id, id FROM media_items WHERE parent_id IS NULL AND overseerr_id != 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to list overseerr links: %w", err)
	}
	defer rows.Close()

	linked := make(map[int64]int64)
	for rows.Next() {
		var overseerrID, itemID int64
		if err := rows.Scan(&overseerrID, &itemID); err != nil {
			return nil, fmt.Errorf("failed to scan overseerr link: %w", err)
		}
		linked[overseerrID] = itemID
	}
	return linked, rows.Err()
}

// ListOptions filters and paginates top-level item listings. Sort accepts
// date_desc (default), date_asc, title_asc and title_desc.
type ListOptions struct {
	State    media.State
	Type     media.Type
	Search   string
	Sort     string
	Page     int
	PageSize int
}

func orderClause(sort string) string {
	switch sort {
	case "date_asc":
		return "m.requested_at ASC, m.id ASC"
	case "title_asc":
		return "m.title COLLATE NOCASE ASC, m.id ASC"
	case "title_desc":
		return "m.title COLLATE NOCASE DESC, m.id DESC"
	default:
		return "m.requested_at DESC, m.id DESC"
	}
}

// List returns top-level items matching the options along with the total
// match count. Children and streams are not loaded.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*media.Item, int64, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}
	if opts.PageSize > 500 {
		opts.PageSize = 500
	}

	where := []string{"m.parent_id IS NULL"}
	var args []any
	if opts.State != "" {
		where = append(where, "m.last_state = ?")
		args = append(args, string(opts.State))
	}
	if opts.Type != "" {
		where = append(where, "m.type = ?")
		args = append(args, string(opts.Type))
	}
	if opts.Search != "" {
		where = append(where, "(m.title LIKE ? OR m.imdb_id = ?)")
		args = append(args, "%"+opts.Search+"%", opts.Search)
	}
	clause := strings.Join(where, " AND ")

	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media_items m WHERE "+clause, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count items: %w", err)
	}

	query := "SELECT " + itemColumns + " FROM media_items m WHERE " + clause +
		" ORDER BY " + orderClause(opts.Sort) + " LIMIT ? OFFSET ?"
	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*media.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// loadTree loads the item with the given id and every descendant, streams
// included, and wires the parent/child pointers.
func (s *Store) loadTree(ctx context.Context, rootID int64) (*media.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM media_items WHERE id = ?
			UNION ALL
			SELECT m.id FROM media_items m JOIN tree t ON m.parent_id = t.id
		)
		SELECT `+itemColumns+` FROM media_items m JOIN tree t ON m.id = t.id
		ORDER BY m.parent_id, m.number`, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tree: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*media.Item)
	var ordered []*media.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		byID[item.ID] = item
		ordered = append(ordered, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tree: %w", err)
	}
	if len(ordered) == 0 {
		return nil, ErrNotFound
	}

	var root *media.Item
	for _, item := range ordered {
		if item.ID == rootID {
			root = item
			continue
		}
		if parent, ok := byID[item.ParentID]; ok {
			item.Parent = parent
			parent.Children = append(parent.Children, item)
		}
	}
	if root == nil {
		return nil, ErrNotFound
	}

	if err := s.loadStreams(ctx, rootID, byID); err != nil {
		return nil, err
	}
	return root, nil
}

// loadStreams attaches stored stream rows to the loaded tree nodes.
func (s *Store) loadStreams(ctx context.Context, rootID int64, byID map[int64]*media.Item) error {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM media_items WHERE id = ?
			UNION ALL
			SELECT m.id FROM media_items m JOIN tree t ON m.parent_id = t.id
		)
		SELECT s.media_item_id, s.infohash, s.raw_title, s.rank, s.fetch_ok
		FROM streams s JOIN tree t ON s.media_item_id = t.id`, rootID)
	if err != nil {
		return fmt.Errorf("failed to load streams: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var itemID int64
		stream := &media.Stream{}
		if err := rows.Scan(&itemID, &stream.Infohash, &stream.RawTitle, &stream.Rank, &stream.FetchOK); err != nil {
			return fmt.Errorf("failed to scan stream: %w", err)
		}
		if item, ok := byID[itemID]; ok {
			item.AddStream(stream)
		}
	}
	return rows.Err()
}

// scanItem reads one media_items row into an Item.
func scanItem(rows *sql.Rows) (*media.Item, error) {
	var (
		item              media.Item
		typ               string
		parentID          sql.NullInt64
		imdbID, tmdbID    sql.NullString
		tvdbID, title     sql.NullString
		airedAt           sql.NullTime
		genres            string
		language, country sql.NullString
		network           sql.NullString
		requestedAt       sql.NullTime
		requestedBy       sql.NullString
		indexedAt         sql.NullTime
		scrapedAt         sql.NullTime
		symlinkedAt       sql.NullTime
		file, folder      sql.NullString
		altFolder         sql.NullString
		activeStream      sql.NullString
		key, guid         sql.NullString
		updateFolder      sql.NullString
		lastState         string
	)

	err := rows.Scan(
		&item.ID, &typ, &parentID, &item.Number, &imdbID, &tmdbID, &tvdbID,
		&title, &item.Year, &airedAt, &genres, &language, &country, &network, &item.IsAnime,
		&requestedAt, &requestedBy, &item.OverseerrID, &indexedAt,
		&scrapedAt, &item.ScrapedTimes, &item.Symlinked, &symlinkedAt, &item.SymlinkedTimes,
		&file, &folder, &altFolder, &activeStream,
		&key, &guid, &updateFolder, &lastState,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	item.Type = media.Type(typ)
	item.ParentID = parentID.Int64
	item.ImdbID = imdbID.String
	item.TmdbID = tmdbID.String
	item.TvdbID = tvdbID.String
	item.Title = title.String
	item.Language = language.String
	item.Country = country.String
	item.Network = network.String
	item.RequestedBy = requestedBy.String
	item.File = file.String
	item.Folder = folder.String
	item.AlternativeFolder = altFolder.String
	item.Key = key.String
	item.Guid = guid.String
	item.UpdateFolder = updateFolder.String
	item.LastState = media.State(lastState)
	item.AiredAt = timePtr(airedAt)
	item.RequestedAt = timePtr(requestedAt)
	item.IndexedAt = timePtr(indexedAt)
	item.ScrapedAt = timePtr(scrapedAt)
	item.SymlinkedAt = timePtr(symlinkedAt)

	if genres != "" {
		if err := json.Unmarshal([]byte(genres), &item.Genres); err != nil {
			return nil, fmt.Errorf("failed to unmarshal genres: %w", err)
		}
	}
	if activeStream.Valid {
		item.ActiveStream = &media.ActiveStream{}
		if err := json.Unmarshal([]byte(activeStream.String), item.ActiveStream); err != nil {
			return nil, fmt.Errorf("failed to unmarshal active stream: %w", err)
		}
	}

	return &item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
