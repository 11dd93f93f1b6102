package store

import (
	"context"
	"encoding/json"
	"time"
)

// GetChatHistory returns the conversation for a document and provider.
// A missing history is returned empty, not as an error.
func (s *Store) GetChatHistory(ctx context.Context, documentID, provider string) (*ChatHistory, error) {
	h := &ChatHistory{DocumentID: documentID, Provider: provider, Messages: []ChatMessage{}}

	var messages, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT messages, updated_at FROM chat_histories
		WHERE document_id = ? AND provider = ?
	`, documentID, provider).Scan(&messages, &updatedAt)
	if isNoRows(err) {
		return h, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &h.Messages); err != nil {
		return nil, err
	}
	h.UpdatedAt = parseTime(updatedAt)
	return h, nil
}

// SaveChatHistory replaces the stored conversation.
func (s *Store) SaveChatHistory(ctx context.Context, h ChatHistory) error {
	if h.Messages == nil {
		h.Messages = []ChatMessage{}
	}
	messages, err := json.Marshal(h.Messages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_histories (document_id, provider, messages, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id, provider) DO UPDATE SET
			messages = excluded.messages,
			updated_at = excluded.updated_at
	`, h.DocumentID, h.Provider, string(messages), formatTime(time.Now()))
	return err
}

// DeleteChatHistory clears a conversation. provider "" clears all
// providers for the document.
func (s *Store) DeleteChatHistory(ctx context.Context, documentID, provider string) error {
	if provider == "" {
		_, err := s.db.ExecContext(ctx,
			"DELETE FROM chat_histories WHERE document_id = ?", documentID)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM chat_histories WHERE document_id = ? AND provider = ?",
		documentID, provider)
	return err
}
