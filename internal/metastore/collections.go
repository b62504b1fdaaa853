package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NameKey normalizes a collection name for uniqueness checks:
// case-insensitive, surrounding whitespace ignored.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CreateCollection inserts a collection row.
// Returns ErrDuplicate when the owner already has a live collection with
// the same normalized name.
func (s *Store) CreateCollection(ctx context.Context, c *Collection) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections
			(id, owner_id, name, name_key, privacy, namespace,
			 chunk_size, overlap, embedding_model, status,
			 document_count, total_size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		c.ID, c.OwnerID, c.Name, NameKey(c.Name), c.Privacy, c.Namespace,
		c.Policy.ChunkSize, c.Policy.Overlap, c.Policy.EmbeddingModel,
		c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("collection %q for owner %s: %w", c.Name, c.OwnerID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("inserting collection: %w", err)
	}
	return nil
}

const collectionColumns = `id, owner_id, name, privacy, namespace,
	chunk_size, overlap, embedding_model, status,
	document_count, total_size, last_indexed_at, created_at, updated_at`

func scanCollection(row interface{ Scan(...any) error }) (*Collection, error) {
	var c Collection
	var lastIndexed sql.NullTime
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Privacy, &c.Namespace,
		&c.Policy.ChunkSize, &c.Policy.Overlap, &c.Policy.EmbeddingModel,
		&c.Status, &c.DocumentCount, &c.TotalSize, &lastIndexed,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning collection: %w", err)
	}
	if lastIndexed.Valid {
		t := lastIndexed.Time
		c.LastIndexedAt = &t
	}
	return &c, nil
}

// GetCollection fetches a collection by ID, including tombstoned rows.
func (s *Store) GetCollection(ctx context.Context, id string) (*Collection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE id = ?`, id)
	return scanCollection(row)
}

// ListCollectionsOptions filters and pages collection listings.
type ListCollectionsOptions struct {
	// RequesterID controls visibility: public collections plus the
	// requester's own.
	RequesterID string
	// NameFilter is a case-insensitive substring filter; empty matches all.
	NameFilter string
	// SortByName orders by name instead of creation time.
	SortByName bool
	Limit      int
	Offset     int
}

// ListCollections returns collections visible to the requester. Deleted
// collections are hidden.
func (s *Store) ListCollections(ctx context.Context, opts ListCollectionsOptions) ([]*Collection, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + collectionColumns + ` FROM collections
		WHERE status != 'deleted' AND (privacy = 'public' OR owner_id = ?)`
	args := []any{opts.RequesterID}

	if opts.NameFilter != "" {
		query += ` AND name_key LIKE ?`
		args = append(args, "%"+NameKey(opts.NameFilter)+"%")
	}
	if opts.SortByName {
		query += ` ORDER BY name_key`
	} else {
		query += ` ORDER BY created_at DESC`
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCollectionPolicy updates the chunking policy and marks the
// collection as needing reprocessing.
func (s *Store) UpdateCollectionPolicy(ctx context.Context, id string, policy ChunkPolicy) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE collections
		SET chunk_size = ?, overlap = ?, embedding_model = ?,
		    status = ?, updated_at = ?
		WHERE id = ? AND status != 'deleted'`,
		policy.ChunkSize, policy.Overlap, policy.EmbeddingModel,
		CollectionNeedsReprocess, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating collection policy: %w", err)
	}
	return requireRow(res)
}

// SetCollectionStatus transitions the collection's lifecycle state.
func (s *Store) SetCollectionStatus(ctx context.Context, id string, status CollectionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collections SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("setting collection status: %w", err)
	}
	return requireRow(res)
}

// RenameCollection changes the display name, keeping the uniqueness rule.
func (s *Store) RenameCollection(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE collections SET name = ?, name_key = ?, updated_at = ?
		WHERE id = ? AND status != 'deleted'`,
		name, NameKey(name), time.Now().UTC(), id)
	if isUniqueViolation(err) {
		return fmt.Errorf("collection name %q: %w", name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("renaming collection: %w", err)
	}
	return requireRow(res)
}

// TouchCollectionIndexed updates the document counters after an ingestion.
func (s *Store) TouchCollectionIndexed(ctx context.Context, id string, docDelta int, sizeDelta int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE collections
		SET document_count = document_count + ?,
		    total_size = total_size + ?,
		    last_indexed_at = ?, updated_at = ?
		WHERE id = ?`,
		docDelta, sizeDelta, now, now, id)
	if err != nil {
		return fmt.Errorf("updating collection counters: %w", err)
	}
	return requireRow(res)
}

// AllCollections returns every non-deleted collection regardless of
// visibility. System maintenance only; request paths go through
// ListCollections.
func (s *Store) AllCollections(ctx context.Context) ([]*Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE status != 'deleted'`)
	if err != nil {
		return nil, fmt.Errorf("listing all collections: %w", err)
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeletedCollections returns tombstoned collections. The purge janitor
// uses this to retry namespace cleanup that failed at delete time.
func (s *Store) DeletedCollections(ctx context.Context) ([]*Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE status = 'deleted'`)
	if err != nil {
		return nil, fmt.Errorf("listing deleted collections: %w", err)
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
