package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/medrelay/internal/store"
	"github.com/vovakirdan/medrelay/internal/utils"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies pending migrations.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema on an in-memory database.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps an in-memory
	// database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== ConversationStore implementation ====

// CreateConversation inserts a conversation, assigning ID and timestamps when empty.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *store.Conversation) (*store.Conversation, error) {
	c := *conv
	if c.ID == "" {
		c.ID = utils.NewID()
	}
	if c.Title == "" {
		c.Title = "New Conversation"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.UpdatedAt = c.CreatedAt

	query := `
		INSERT INTO conversations (id, title, doctor_language, patient_language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.Title, c.DoctorLanguage, c.PatientLanguage, c.CreatedAt, c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	return &c, nil
}

// GetConversation retrieves a conversation with its message count.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	query := `
		SELECT c.id, c.title, c.doctor_language, c.patient_language, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE c.id = ?
	`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns all conversations, most recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*store.Conversation, error) {
	query := `
		SELECT c.id, c.title, c.doctor_language, c.patient_language, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC, c.rowid DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []*store.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return convs, nil
}

// DeleteConversation removes a conversation together with its messages and summaries.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_summaries WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete summaries: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ==== MessageStore implementation ====

// AppendMessage inserts a message and bumps the conversation's updated_at
// in the same transaction. Order is defined by the autoincrement seq column.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	m := *msg
	if m.ID == "" {
		m.ID = utils.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if m.Kind == "" {
		m.Kind = store.KindText
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	result, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, m.CreatedAt, m.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	} else if affected == 0 {
		return nil, fmt.Errorf("conversation %s: %w", m.ConversationID, store.ErrNotFound)
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, kind, original_text, original_language,
		                      translated_text, target_language, audio_ref, audio_duration, speech_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err = tx.ExecContext(ctx, query,
		m.ID, m.ConversationID, string(m.Role), string(m.Kind), m.OriginalText, m.OriginalLanguage,
		m.TranslatedText, m.TargetLanguage, m.AudioRef, m.AudioDuration, m.SpeechRef, m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	m.Seq = seq

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &m, nil
}

const messageColumns = `m.seq, m.id, m.conversation_id, m.role, m.kind, m.original_text, m.original_language,
	m.translated_text, m.target_language, m.audio_ref, m.audio_duration, m.speech_ref, m.created_at`

// ListMessages returns a conversation's messages in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.conversation_id = ?
		ORDER BY m.seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// SearchMessages does a case-insensitive substring match on original and
// translated text, newest first. An empty conversationID searches everything.
func (s *SQLiteStore) SearchMessages(ctx context.Context, query, conversationID string, limit int) ([]store.SearchHit, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(query) + "%"

	sqlQuery := `SELECT ` + messageColumns + `, c.title
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (m.original_text LIKE ? ESCAPE '\' OR m.translated_text LIKE ? ESCAPE '\')
	`
	args := []any{pattern, pattern}
	if conversationID != "" {
		sqlQuery += ` AND m.conversation_id = ?`
		args = append(args, conversationID)
	}
	sqlQuery += ` ORDER BY m.created_at DESC, m.seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	hits := []store.SearchHit{}
	for rows.Next() {
		var hit store.SearchHit
		msg, err := scanMessage(rows, &hit.ConversationTitle)
		if err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hit.Message = *msg
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}

	return hits, nil
}

// ==== SummaryStore implementation ====

// AppendSummary stores a generated summary.
func (s *SQLiteStore) AppendSummary(ctx context.Context, summary *store.Summary) (*store.Summary, error) {
	sm := *summary
	if sm.ID == "" {
		sm.ID = utils.NewID()
	}
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = s.now()
	}

	query := `
		INSERT INTO conversation_summaries (id, conversation_id, summary_text, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, sm.ID, sm.ConversationID, sm.Text, sm.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert summary: %w", err)
	}
	return &sm, nil
}

// ListSummaries returns a conversation's summaries, newest first.
func (s *SQLiteStore) ListSummaries(ctx context.Context, conversationID string) ([]*store.Summary, error) {
	query := `
		SELECT id, conversation_id, summary_text, created_at
		FROM conversation_summaries
		WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*store.Summary
	for rows.Next() {
		var sm store.Summary
		if err := rows.Scan(&sm.ID, &sm.ConversationID, &sm.Text, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, &sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}

	return summaries, nil
}

// ==== helpers ====

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*store.Conversation, error) {
	var c store.Conversation
	if err := row.Scan(&c.ID, &c.Title, &c.DoctorLanguage, &c.PatientLanguage, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessage(row scanner, extra ...any) (*store.Message, error) {
	var m store.Message
	var role, kind string
	var translated, target, audioRef, duration, speechRef sql.NullString
	dest := []any{
		&m.Seq, &m.ID, &m.ConversationID, &role, &kind, &m.OriginalText, &m.OriginalLanguage,
		&translated, &target, &audioRef, &duration, &speechRef, &m.CreatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	m.Role = store.Role(role)
	m.Kind = store.ContentKind(kind)
	m.TranslatedText = nullString(translated)
	m.TargetLanguage = nullString(target)
	m.AudioRef = nullString(audioRef)
	m.AudioDuration = nullString(duration)
	m.SpeechRef = nullString(speechRef)
	return &m, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
