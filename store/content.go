package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// ListSectionsByDocument returns a document's sections in order.
func (s *Store) ListSectionsByDocument(ctx context.Context, documentID string) ([]Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, title, content, start_page, end_page, ord,
			image_derived, bullets
		FROM sections WHERE document_id = ? ORDER BY ord
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Section
	for rows.Next() {
		var (
			sec          Section
			imageDerived int
			bullets      string
		)
		if err := rows.Scan(&sec.ID, &sec.DocumentID, &sec.Title, &sec.Content,
			&sec.StartPage, &sec.EndPage, &sec.Order, &imageDerived, &bullets); err != nil {
			return nil, err
		}
		sec.ImageDerived = imageDerived != 0
		if err := json.Unmarshal([]byte(bullets), &sec.Bullets); err != nil {
			return nil, fmt.Errorf("section %s bullets: %w", sec.ID, err)
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// ListChunksByDocument returns a document's chunks with their embeddings,
// ordered by global chunk index.
func (s *Store) ListChunksByDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, COALESCE(c.section_id, ''), c.section_title,
			c.content, c.start_offset, c.end_offset, c.section_index, c.chunk_index,
			c.start_page, c.end_page, c.image_derived, c.content_hash, v.embedding
		FROM chunks c
		LEFT JOIN vec_chunks v ON v.chunk_seq = c.seq
		WHERE c.document_id = ?
		ORDER BY c.chunk_index
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var (
			c            Chunk
			imageDerived int
			embedding    []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.SectionID, &c.SectionTitle,
			&c.Content, &c.StartOffset, &c.EndOffset, &c.SectionIndex,
			&c.ChunkIndex, &c.StartPage, &c.EndPage, &imageDerived,
			&c.ContentHash, &embedding); err != nil {
			return nil, err
		}
		c.ImageDerived = imageDerived != 0
		if len(embedding) > 0 {
			c.Embedding = deserializeFloat32(embedding)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListTablesByDocument returns a document's tables in extraction order.
func (s *Store) ListTablesByDocument(ctx context.Context, documentID string) ([]Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, table_index, page_number, headers, data_rows,
			row_count, column_count
		FROM extracted_tables WHERE document_id = ? ORDER BY table_index
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetTable returns a single table or ErrNotFound.
func (s *Store) GetTable(ctx context.Context, id string) (*Table, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, table_index, page_number, headers, data_rows,
			row_count, column_count
		FROM extracted_tables WHERE id = ?
	`, id)
	t, err := scanTable(row)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	return t, err
}

func scanTable(r rowScanner) (*Table, error) {
	var (
		t             Table
		headers, data string
	)
	if err := r.Scan(&t.ID, &t.DocumentID, &t.TableIndex, &t.PageNumber,
		&headers, &data, &t.RowCount, &t.ColumnCount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headers), &t.Headers); err != nil {
		return nil, fmt.Errorf("table %s headers: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(data), &t.Rows); err != nil {
		return nil, fmt.Errorf("table %s rows: %w", t.ID, err)
	}
	return &t, nil
}
