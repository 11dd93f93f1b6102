package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Document statuses.
const (
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusError      = "error"
)

// Document represents a row in the documents table.
type Document struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`
	Title           string    `json:"title"`
	Path            string    `json:"path,omitempty"`
	ContentHash     string    `json:"content_hash"`
	PageCount       int       `json:"page_count"`
	WordCount       int       `json:"word_count"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	HasImages       bool      `json:"has_images"`
	IsImageBased    bool      `json:"is_image_based"`
	ImageOnlyPages  int       `json:"image_only_pages"`
	AIAnalyzedPages int       `json:"ai_analyzed_pages"`
	UploadedAt      time.Time `json:"uploaded_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Section represents a row in the sections table.
type Section struct {
	ID           string   `json:"id"`
	DocumentID   string   `json:"document_id"`
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	StartPage    int      `json:"start_page"`
	EndPage      int      `json:"end_page"`
	Order        int      `json:"order"`
	ImageDerived bool     `json:"image_derived"`
	Bullets      []string `json:"bullets"`
}

// Chunk represents a row in the chunks table plus its embedding.
type Chunk struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	SectionID    string    `json:"section_id"`
	SectionTitle string    `json:"section_title"`
	Content      string    `json:"content"`
	StartOffset  int       `json:"start_offset"`
	EndOffset    int       `json:"end_offset"`
	SectionIndex int       `json:"section_index"`
	ChunkIndex   int       `json:"chunk_index"`
	StartPage    int       `json:"start_page"`
	EndPage      int       `json:"end_page"`
	ImageDerived bool      `json:"image_derived"`
	Embedding    []float32 `json:"-"`
	ContentHash  string    `json:"content_hash"`
}

// Table is a structured table extracted from a page.
type Table struct {
	ID          string     `json:"id"`
	DocumentID  string     `json:"document_id"`
	TableIndex  int        `json:"table_index"`
	PageNumber  int        `json:"page_number"`
	Headers     []string   `json:"headers"`
	Rows        [][]string `json:"rows"`
	RowCount    int        `json:"row_count"`
	ColumnCount int        `json:"column_count"`
}

// ChatMessage is one turn of a conversation about a document.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatHistory is keyed by document and provider.
type ChatHistory struct {
	DocumentID string        `json:"document_id"`
	Provider   string        `json:"provider"`
	Messages   []ChatMessage `json:"messages"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Ingestion is everything produced for one document by a successful
// ingestion run. It is written in a single transaction.
type Ingestion struct {
	Document Document
	Sections []Section
	Chunks   []Chunk
	Tables   []Table
}

// Store wraps the SQLite database for all docqa persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 is the inverse of serializeFloat32.
func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
