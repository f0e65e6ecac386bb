package chats

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ansarisultan/lexachat-server/internal/db"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

const (
	DefaultName       = "New Chat"
	MaxNameLength     = 100
	DefaultPageSize   = 20
	maxSearchResults  = 50
	lastMessageLength = 50
)

type Message struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

type Metadata struct {
	LastMessage  string   `json:"lastMessage"`
	MessageCount int      `json:"messageCount"`
	IsArchived   bool     `json:"isArchived"`
	Tags         []string `json:"tags"`
	TokensUsed   int      `json:"tokensUsed"`
}

type Chat struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Name      string    `json:"name"`
	Messages  []Message `json:"messages"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MetadataPatch carries client supplied metadata. Nil fields keep stored values.
type MetadataPatch struct {
	IsArchived *bool    `json:"isArchived,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	TokensUsed *int     `json:"tokensUsed,omitempty"`
}

type SaveInput struct {
	SessionID string
	Name      string
	Messages  []Message
	Metadata  MetadataPatch
}

// UpdateInput is a partial update; nil fields are left alone.
type UpdateInput struct {
	Name     *string
	Messages []Message
	Metadata *MetadataPatch
}

type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(database *sql.DB) Store {
	return Store{db: database, now: time.Now}
}

const chatColumns = `id, session_id, name, last_message, message_count, is_archived, tags, tokens_used, created_at, updated_at`

// List returns non-archived chats for a user, newest first.
func (s Store) List(ctx context.Context, userID string, page, limit int) ([]Chat, Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats WHERE user_id = ? AND is_archived = 0;`, userID).Scan(&total); err != nil {
		return nil, Page{}, fmt.Errorf("count chats: %w", err)
	}

	chats, err := s.queryChats(ctx, `
SELECT `+chatColumns+` FROM chats
WHERE user_id = ? AND is_archived = 0
ORDER BY updated_at DESC
LIMIT ? OFFSET ?;
`, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, Page{}, err
	}

	pages := (total + limit - 1) / limit
	return chats, Page{Page: page, Limit: limit, Total: total, Pages: pages}, nil
}

func (s Store) Get(ctx context.Context, userID, sessionID string) (Chat, error) {
	chats, err := s.queryChats(ctx, `SELECT `+chatColumns+` FROM chats WHERE user_id = ? AND session_id = ? LIMIT 1;`, userID, sessionID)
	if err != nil {
		return Chat{}, err
	}
	if len(chats) == 0 {
		return Chat{}, ErrNotFound
	}
	return chats[0], nil
}

// Save creates the chat for sessionID or replaces its name and messages,
// merging metadata into what is stored.
func (s Store) Save(ctx context.Context, userID string, in SaveInput) (Chat, error) {
	name := normalizeName(in.Name)
	messages := in.Messages

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := loadMetadata(ctx, tx, userID, in.SessionID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		now := db.Timestamp(s.now())

		if errors.Is(err, ErrNotFound) {
			meta := applyPatch(Metadata{Tags: []string{}}, in.Metadata)
			meta = withMessageSummary(meta, messages)
			tags, err := encodeTags(meta.Tags)
			if err != nil {
				return err
			}
			chatID := uuid.NewString()
			if _, err := tx.ExecContext(ctx, `
INSERT INTO chats (id, user_id, session_id, name, last_message, message_count, is_archived, tags, tokens_used, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, chatID, userID, in.SessionID, name, meta.LastMessage, meta.MessageCount, meta.IsArchived, tags, meta.TokensUsed, now, now); err != nil {
				return fmt.Errorf("insert chat: %w", err)
			}
			return replaceMessages(ctx, tx, chatID, messages, s.now())
		}

		meta := applyPatch(existing.meta, in.Metadata)
		meta = withMessageSummary(meta, messages)
		if err := updateChatRow(ctx, tx, existing.id, name, meta, now); err != nil {
			return err
		}
		return replaceMessages(ctx, tx, existing.id, messages, s.now())
	})
	if err != nil {
		return Chat{}, err
	}
	return s.Get(ctx, userID, in.SessionID)
}

func (s Store) Update(ctx context.Context, userID, sessionID string, in UpdateInput) (Chat, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := loadMetadata(ctx, tx, userID, sessionID)
		if err != nil {
			return err
		}

		name := existing.name
		if in.Name != nil {
			name = normalizeName(*in.Name)
		}
		meta := existing.meta
		if in.Metadata != nil {
			meta = applyPatch(meta, *in.Metadata)
		}
		if in.Messages != nil {
			meta = withMessageSummary(meta, in.Messages)
		}

		if err := updateChatRow(ctx, tx, existing.id, name, meta, db.Timestamp(s.now())); err != nil {
			return err
		}
		if in.Messages != nil {
			return replaceMessages(ctx, tx, existing.id, in.Messages, s.now())
		}
		return nil
	})
	if err != nil {
		return Chat{}, err
	}
	return s.Get(ctx, userID, sessionID)
}

func (s Store) Delete(ctx context.Context, userID, sessionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE user_id = ? AND session_id = ?;`, userID, sessionID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s Store) Archive(ctx context.Context, userID, sessionID string) (Chat, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE chats SET is_archived = 1 WHERE user_id = ? AND session_id = ?;`, userID, sessionID)
	if err != nil {
		return Chat{}, fmt.Errorf("archive chat: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return Chat{}, ErrNotFound
	}
	return s.Get(ctx, userID, sessionID)
}

// Search matches name or message text case-insensitively, or an exact tag.
func (s Store) Search(ctx context.Context, userID, query string) ([]Chat, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.queryChats(ctx, `
SELECT `+chatColumns+` FROM chats c
WHERE c.user_id = ? AND (
  LOWER(c.name) LIKE ? ESCAPE '\'
  OR EXISTS (SELECT 1 FROM chat_messages m WHERE m.chat_id = c.id AND LOWER(m.text) LIKE ? ESCAPE '\')
  OR EXISTS (SELECT 1 FROM json_each(c.tags) t WHERE t.value = ?)
)
ORDER BY c.updated_at DESC
LIMIT ?;
`, userID, pattern, pattern, query, maxSearchResults)
}

func (s Store) queryChats(ctx context.Context, query string, args ...any) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}

	chats := make([]Chat, 0, 8)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	rows.Close()

	if err := s.attachMessages(ctx, chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (s Store) attachMessages(ctx context.Context, chats []Chat) error {
	if len(chats) == 0 {
		return nil
	}

	index := make(map[string]int, len(chats))
	placeholders := make([]string, 0, len(chats))
	args := make([]any, 0, len(chats))
	for i := range chats {
		index[chats[i].ID] = i
		chats[i].Messages = []Message{}
		placeholders = append(placeholders, "?")
		args = append(args, chats[i].ID)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT chat_id, text, sender, sent_at FROM chat_messages
WHERE chat_id IN (`+strings.Join(placeholders, ", ")+`)
ORDER BY chat_id, position;
`, args...)
	if err != nil {
		return fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			chatID, sentAt string
			msg            Message
		)
		if err := rows.Scan(&chatID, &msg.Text, &msg.Sender, &sentAt); err != nil {
			return fmt.Errorf("scan chat message: %w", err)
		}
		if msg.Timestamp, err = db.ParseTimestamp(sentAt); err != nil {
			return err
		}
		i := index[chatID]
		chats[i].Messages = append(chats[i].Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate chat messages: %w", err)
	}
	return nil
}

func (s Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type storedChat struct {
	id   string
	name string
	meta Metadata
}

func loadMetadata(ctx context.Context, tx *sql.Tx, userID, sessionID string) (storedChat, error) {
	var (
		out  storedChat
		tags string
	)
	err := tx.QueryRowContext(ctx, `
SELECT id, name, last_message, message_count, is_archived, tags, tokens_used
FROM chats WHERE user_id = ? AND session_id = ?;
`, userID, sessionID).Scan(&out.id, &out.name, &out.meta.LastMessage, &out.meta.MessageCount, &out.meta.IsArchived, &tags, &out.meta.TokensUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return storedChat{}, ErrNotFound
	}
	if err != nil {
		return storedChat{}, fmt.Errorf("load chat: %w", err)
	}
	if out.meta.Tags, err = decodeTags(tags); err != nil {
		return storedChat{}, err
	}
	return out, nil
}

func updateChatRow(ctx context.Context, tx *sql.Tx, chatID, name string, meta Metadata, now string) error {
	tags, err := encodeTags(meta.Tags)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE chats SET name = ?, last_message = ?, message_count = ?, is_archived = ?, tags = ?, tokens_used = ?, updated_at = ?
WHERE id = ?;
`, name, meta.LastMessage, meta.MessageCount, meta.IsArchived, tags, meta.TokensUsed, now, chatID); err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	return nil
}

func replaceMessages(ctx context.Context, tx *sql.Tx, chatID string, messages []Message, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ?;`, chatID); err != nil {
		return fmt.Errorf("clear chat messages: %w", err)
	}
	for i, msg := range messages {
		sentAt := msg.Timestamp
		if sentAt.IsZero() {
			sentAt = now
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO chat_messages (id, chat_id, position, text, sender, sent_at) VALUES (?, ?, ?, ?, ?, ?);
`, uuid.NewString(), chatID, i, strings.TrimSpace(msg.Text), msg.Sender, db.Timestamp(sentAt)); err != nil {
			return fmt.Errorf("insert chat message: %w", err)
		}
	}
	return nil
}

func scanChat(rows *sql.Rows) (Chat, error) {
	var (
		out                  Chat
		tags                 string
		createdAt, updatedAt string
	)
	if err := rows.Scan(&out.ID, &out.SessionID, &out.Name, &out.Metadata.LastMessage, &out.Metadata.MessageCount,
		&out.Metadata.IsArchived, &tags, &out.Metadata.TokensUsed, &createdAt, &updatedAt); err != nil {
		return Chat{}, fmt.Errorf("scan chat: %w", err)
	}

	var err error
	if out.Metadata.Tags, err = decodeTags(tags); err != nil {
		return Chat{}, err
	}
	if out.CreatedAt, err = db.ParseTimestamp(createdAt); err != nil {
		return Chat{}, err
	}
	if out.UpdatedAt, err = db.ParseTimestamp(updatedAt); err != nil {
		return Chat{}, err
	}
	return out, nil
}

func applyPatch(meta Metadata, patch MetadataPatch) Metadata {
	if patch.IsArchived != nil {
		meta.IsArchived = *patch.IsArchived
	}
	if patch.Tags != nil {
		meta.Tags = append([]string(nil), patch.Tags...)
	}
	if patch.TokensUsed != nil {
		meta.TokensUsed = *patch.TokensUsed
	}
	return meta
}

func withMessageSummary(meta Metadata, messages []Message) Metadata {
	if len(messages) == 0 {
		return meta
	}
	meta.LastMessage = Preview(messages[len(messages)-1].Text)
	meta.MessageCount = len(messages)
	return meta
}

// Preview shortens text to the sidebar preview length.
func Preview(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= lastMessageLength {
		return text
	}
	return string([]rune(text)[:lastMessageLength]) + "..."
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName
	}
	return name
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(raw), nil
}

func decodeTags(raw string) ([]string, error) {
	tags := []string{}
	if strings.TrimSpace(raw) == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
