package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const documentColumns = `id, filename, title, path, content_hash, page_count, word_count,
	status, error, has_images, is_image_based, image_only_pages, ai_analyzed_pages,
	uploaded_at, updated_at`

// CreateDocument inserts a new document row. UploadedAt and UpdatedAt
// default to now.
func (s *Store) CreateDocument(ctx context.Context, doc Document) error {
	now := time.Now()
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = now
	}
	if doc.Status == "" {
		doc.Status = StatusProcessing
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Filename, doc.Title, doc.Path, doc.ContentHash, doc.PageCount,
		doc.WordCount, doc.Status, doc.Error, boolInt(doc.HasImages),
		boolInt(doc.IsImageBased), doc.ImageOnlyPages, doc.AIAnalyzedPages,
		formatTime(doc.UploadedAt), formatTime(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// GetDocument returns a document by ID or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	return scanDocument(row)
}

// GetDocumentByHash returns the most recently updated document with the
// given content hash, or ErrNotFound.
func (s *Store) GetDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE content_hash = ? ORDER BY updated_at DESC LIMIT 1", hash)
	return scanDocument(row)
}

// GetDocumentByPath returns the most recently updated document ingested
// from path, or ErrNotFound.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE path = ? ORDER BY updated_at DESC LIMIT 1", path)
	return scanDocument(row)
}

// ListDocuments returns all documents, newest upload first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY uploaded_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets the status and error message of a document.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status, message string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?",
		status, message, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// FailDocument marks a document as failed and removes any sections,
// chunks and tables it had, so nothing of it remains searchable.
func (s *Store) FailDocument(ctx context.Context, id, message string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteDocumentData(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?",
			StatusError, message, formatTime(time.Now()), id)
		if err != nil {
			return err
		}
		return expectRow(res)
	})
}

// DeleteDocument removes a document with its sections, chunks,
// embeddings, tables and chat histories in one transaction.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteDocumentData(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM chat_histories WHERE document_id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		if err != nil {
			return err
		}
		return expectRow(res)
	})
}

// deleteDocumentData removes derived data but keeps the document row and
// its chat histories. vec0 tables do not take part in foreign key
// cascades, so embeddings are removed explicitly.
func deleteDocumentData(ctx context.Context, tx *sql.Tx, id string) error {
	for _, q := range []string{
		`DELETE FROM vec_chunks WHERE chunk_seq IN (
			SELECT seq FROM chunks WHERE document_id = ?
		)`,
		"DELETE FROM chunks WHERE document_id = ?",
		"DELETE FROM sections WHERE document_id = ?",
		"DELETE FROM extracted_tables WHERE document_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

// SaveIngestion replaces a document's derived data with the result of an
// ingestion run and updates the document row, all in one transaction.
// Chunk SectionIDs must already refer to sections in ing.Sections.
func (s *Store) SaveIngestion(ctx context.Context, ing Ingestion) error {
	doc := ing.Document
	doc.UpdatedAt = time.Now()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE documents SET filename = ?, title = ?, path = ?, content_hash = ?,
				page_count = ?, word_count = ?, status = ?, error = ?, has_images = ?,
				is_image_based = ?, image_only_pages = ?, ai_analyzed_pages = ?, updated_at = ?
			WHERE id = ?
		`, doc.Filename, doc.Title, doc.Path, doc.ContentHash, doc.PageCount,
			doc.WordCount, doc.Status, doc.Error, boolInt(doc.HasImages),
			boolInt(doc.IsImageBased), doc.ImageOnlyPages, doc.AIAnalyzedPages,
			formatTime(doc.UpdatedAt), doc.ID)
		if err != nil {
			return fmt.Errorf("updating document: %w", err)
		}
		if err := expectRow(res); err != nil {
			return err
		}

		if err := deleteDocumentData(ctx, tx, doc.ID); err != nil {
			return fmt.Errorf("clearing previous data: %w", err)
		}
		if err := insertSections(ctx, tx, ing.Sections); err != nil {
			return fmt.Errorf("inserting sections: %w", err)
		}
		if err := insertChunks(ctx, tx, ing.Chunks, s.embeddingDim); err != nil {
			return fmt.Errorf("inserting chunks: %w", err)
		}
		if err := insertTables(ctx, tx, ing.Tables); err != nil {
			return fmt.Errorf("inserting tables: %w", err)
		}
		return nil
	})
}

func insertSections(ctx context.Context, tx *sql.Tx, sections []Section) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sections (id, document_id, title, content, start_page, end_page,
			ord, image_derived, bullets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sec := range sections {
		bullets, err := json.Marshal(nonNil(sec.Bullets))
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, sec.ID, sec.DocumentID, sec.Title,
			sec.Content, sec.StartPage, sec.EndPage, sec.Order,
			boolInt(sec.ImageDerived), string(bullets)); err != nil {
			return err
		}
	}
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []Chunk, dim int) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, section_id, section_title, content,
			start_offset, end_offset, section_index, chunk_index, start_page,
			end_page, image_derived, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	vecStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO vec_chunks (chunk_seq, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for _, c := range chunks {
		var sectionID any
		if c.SectionID != "" {
			sectionID = c.SectionID
		}
		res, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, sectionID,
			c.SectionTitle, c.Content, c.StartOffset, c.EndOffset, c.SectionIndex,
			c.ChunkIndex, c.StartPage, c.EndPage, boolInt(c.ImageDerived),
			c.ContentHash)
		if err != nil {
			return err
		}
		if len(c.Embedding) == 0 {
			continue
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("chunk %s: embedding has %d dimensions, store expects %d",
				c.ID, len(c.Embedding), dim)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := vecStmt.ExecContext(ctx, seq, serializeFloat32(c.Embedding)); err != nil {
			return fmt.Errorf("inserting embedding: %w", err)
		}
	}
	return nil
}

func insertTables(ctx context.Context, tx *sql.Tx, tables []Table) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO extracted_tables (id, document_id, table_index, page_number,
			headers, data_rows, row_count, column_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range tables {
		headers, err := json.Marshal(nonNil(t.Headers))
		if err != nil {
			return err
		}
		rows, err := json.Marshal(t.Rows)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, t.ID, t.DocumentID, t.TableIndex,
			t.PageNumber, string(headers), string(rows), t.RowCount,
			t.ColumnCount); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*Document, error) {
	var (
		d                     Document
		hasImages, imageBased int
		uploadedAt, updatedAt string
	)
	err := r.Scan(&d.ID, &d.Filename, &d.Title, &d.Path, &d.ContentHash,
		&d.PageCount, &d.WordCount, &d.Status, &d.Error, &hasImages,
		&imageBased, &d.ImageOnlyPages, &d.AIAnalyzedPages, &uploadedAt,
		&updatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.HasImages = hasImages != 0
	d.IsImageBased = imageBased != 0
	d.UploadedAt = parseTime(uploadedAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
