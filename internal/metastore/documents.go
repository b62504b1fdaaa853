package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateDocument inserts a document row in state pending.
// Returns the existing document when the same content address is already
// present in the collection (content-addressed dedup).
func (s *Store) CreateDocument(ctx context.Context, d *Document) (*Document, bool, error) {
	d.Status = DocumentPending
	d.UploadedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents
			(id, collection_id, filename, content_address, mime_type,
			 size, status, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.CollectionID, d.Filename, d.ContentAddress, d.MIMEType,
		d.Size, d.Status, d.UploadedAt)
	if isUniqueViolation(err) {
		existing, gerr := s.GetDocumentByAddress(ctx, d.CollectionID, d.ContentAddress)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("inserting document: %w", err)
	}
	return d, false, nil
}

const documentColumns = `id, collection_id, filename, content_address,
	mime_type, size, status, processing_error, chunk_count, page_count,
	policy_hash, uploaded_at, processed_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var processedAt sql.NullTime
	err := row.Scan(&d.ID, &d.CollectionID, &d.Filename, &d.ContentAddress,
		&d.MIMEType, &d.Size, &d.Status, &d.ProcessingError,
		&d.ChunkCount, &d.PageCount, &d.PolicyHash,
		&d.UploadedAt, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	if processedAt.Valid {
		t := processedAt.Time
		d.ProcessedAt = &t
	}
	return &d, nil
}

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetDocumentByAddress fetches a document by collection and content address.
func (s *Store) GetDocumentByAddress(ctx context.Context, collectionID, addr string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE collection_id = ? AND content_address = ?`, collectionID, addr)
	return scanDocument(row)
}

// ListDocuments returns all documents in a collection, newest first.
func (s *Store) ListDocuments(ctx context.Context, collectionID string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE collection_id = ? ORDER BY uploaded_at DESC`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetDocumentStatus transitions the ingestion state. The ingestion worker
// is the only caller for its document.
func (s *Store) SetDocumentStatus(ctx context.Context, id string, status DocumentStatus, processingError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, processing_error = ? WHERE id = ?`,
		status, processingError, id)
	if err != nil {
		return fmt.Errorf("setting document status: %w", err)
	}
	return requireRow(res)
}

// CommitDocumentIndexed writes chunk rows and transitions the document to
// indexed in a single transaction. Prior chunk rows are replaced; the
// caller has already upserted vectors (vectors before metadata).
func (s *Store) CommitDocumentIndexed(ctx context.Context, docID string, chunks []Chunk, pageCount int, policyHash string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
			return fmt.Errorf("clearing chunk rows: %w", err)
		}
		for _, c := range chunks {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO chunks (document_id, ordinal, text, page, token_count, title)
				VALUES (?, ?, ?, ?, ?, ?)`,
				docID, c.Ordinal, c.Text, c.Page, c.TokenCount, c.Title); err != nil {
				return fmt.Errorf("inserting chunk %d: %w", c.Ordinal, err)
			}
		}
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET status = ?, processing_error = '', chunk_count = ?,
			    page_count = ?, policy_hash = ?, processed_at = ?
			WHERE id = ?`,
			DocumentIndexed, len(chunks), pageCount, policyHash, now, docID)
		if err != nil {
			return fmt.Errorf("marking document indexed: %w", err)
		}
		return requireRow(res)
	})
}

// ResetDocumentForReprocess clears chunk rows and counters and moves the
// document back to chunking.
func (s *Store) ResetDocumentForReprocess(ctx context.Context, docID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
			return fmt.Errorf("clearing chunk rows: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET status = ?, chunk_count = 0, processing_error = ''
			WHERE id = ?`, DocumentChunking, docID)
		if err != nil {
			return fmt.Errorf("resetting document: %w", err)
		}
		return requireRow(res)
	})
}

// ListChunks returns the chunk rows of a document in ordinal order.
func (s *Store) ListChunks(ctx context.Context, docID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, ordinal, text, page, token_count, title
		FROM chunks WHERE document_id = ? ORDER BY ordinal`, docID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.DocumentID, &c.Ordinal, &c.Text, &c.Page,
			&c.TokenCount, &c.Title); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IndexedDocumentIDs returns the IDs of indexed documents in a collection.
// The janitor compares this set against the vector namespace to find
// orphan vectors.
func (s *Store) IndexedDocumentIDs(ctx context.Context, collectionID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM documents
		WHERE collection_id = ? AND status = ?`, collectionID, DocumentIndexed)
	if err != nil {
		return nil, fmt.Errorf("listing indexed documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// DeleteDocument removes a document and its chunk rows.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
			return fmt.Errorf("deleting chunk rows: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting document: %w", err)
		}
		return requireRow(res)
	})
}
