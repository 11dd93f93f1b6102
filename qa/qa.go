// Package qa answers questions about one document from retrieved context
// while keeping a per-provider conversation history.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/brunobiangulo/docqa/llm"
	"github.com/brunobiangulo/docqa/retrieval"
	"github.com/brunobiangulo/docqa/store"
)

// DefaultHistoryTurns is how many earlier messages are replayed to the model.
const DefaultHistoryTurns = 10

var (
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("qa: empty question")

	// ErrChatFailed wraps errors from the chat provider.
	ErrChatFailed = errors.New("qa: chat request failed")
)

// HistoryStore persists conversations keyed by document and provider.
type HistoryStore interface {
	GetChatHistory(ctx context.Context, documentID, provider string) (*store.ChatHistory, error)
	SaveChatHistory(ctx context.Context, h store.ChatHistory) error
}

// Request is a single question about a document.
type Request struct {
	DocumentID string
	Provider   string
	Model      string
	Question   string
	Results    []retrieval.Result
}

// Answer is the model's reply plus the sources it was grounded on.
type Answer struct {
	Text             string              `json:"text"`
	Provider         string              `json:"provider"`
	Model            string              `json:"model"`
	Sources          []Source            `json:"sources"`
	Citations        []Citation          `json:"citations"`
	History          []store.ChatMessage `json:"history"`
	PromptTokens     int                 `json:"prompt_tokens"`
	CompletionTokens int                 `json:"completion_tokens"`
	TotalTokens      int                 `json:"total_tokens"`
	ElapsedMs        int64               `json:"elapsed_ms"`
}

// Source tracks a chunk used as context.
type Source struct {
	ChunkID      string  `json:"chunk_id"`
	SectionTitle string  `json:"section_title"`
	Content      string  `json:"content"`
	Snippet      string  `json:"snippet,omitempty"` // sentences closest to the answer
	StartPage    int     `json:"start_page"`
	EndPage      int     `json:"end_page"`
	Score        float64 `json:"score"`
}

// Answerer sends questions to a chat provider. Questions on the same
// document and provider run one at a time.
type Answerer struct {
	history      HistoryStore
	historyTurns int

	mu    sync.Mutex
	convs map[string]*semaphore.Weighted
}

// New creates an Answerer. historyTurns <= 0 uses DefaultHistoryTurns.
func New(history HistoryStore, historyTurns int) *Answerer {
	if historyTurns <= 0 {
		historyTurns = DefaultHistoryTurns
	}
	return &Answerer{
		history:      history,
		historyTurns: historyTurns,
		convs:        make(map[string]*semaphore.Weighted),
	}
}

// acquire waits for exclusive use of one conversation.
func (a *Answerer) acquire(ctx context.Context, documentID, provider string) (release func(), err error) {
	key := documentID + "\x00" + provider
	a.mu.Lock()
	sem, ok := a.convs[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		a.convs[key] = sem
	}
	a.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// Ask appends the question to the conversation, calls chat and persists the
// extended conversation. When the call fails the stored conversation is
// left exactly as it was before the question.
func (a *Answerer) Ask(ctx context.Context, chat llm.Provider, req Request) (*Answer, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, ErrEmptyQuestion
	}

	release, err := a.acquire(ctx, req.DocumentID, req.Provider)
	if err != nil {
		return nil, err
	}
	defer release()

	h, err := a.history.GetChatHistory(ctx, req.DocumentID, req.Provider)
	if err != nil {
		return nil, fmt.Errorf("loading chat history: %w", err)
	}
	prior := h.Messages

	messages := []llm.Message{{Role: "system", Content: systemPrompt}}
	for _, m := range prior[max(0, len(prior)-a.historyTurns):] {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	contextStr := retrieval.BuildContext(req.Results)
	messages = append(messages, llm.Message{Role: "user", Content: buildAnswerPrompt(req.Question, contextStr)})

	slog.Info("qa: asking",
		"document", req.DocumentID, "provider", req.Provider,
		"question_len", len(req.Question), "chunks", len(req.Results), "history", len(prior))
	start := time.Now()

	resp, err := chat.Chat(ctx, llm.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		slog.Warn("qa: chat failed, history unchanged",
			"document", req.DocumentID, "provider", req.Provider, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrChatFailed, err)
	}
	elapsed := time.Since(start)

	now := time.Now().UTC()
	next := make([]store.ChatMessage, 0, len(prior)+2)
	next = append(next, prior...)
	next = append(next,
		store.ChatMessage{Role: "user", Content: req.Question, CreatedAt: now},
		store.ChatMessage{Role: "assistant", Content: resp.Content, CreatedAt: now},
	)
	if err := a.history.SaveChatHistory(ctx, store.ChatHistory{
		DocumentID: req.DocumentID,
		Provider:   req.Provider,
		Messages:   next,
	}); err != nil {
		return nil, fmt.Errorf("saving chat history: %w", err)
	}

	slog.Info("qa: answered",
		"document", req.DocumentID, "tokens", resp.TotalTokens,
		"elapsed", elapsed.Round(time.Millisecond))

	sources := make([]Source, len(req.Results))
	for i, r := range req.Results {
		sources[i] = Source{
			ChunkID:      r.Chunk.ID,
			SectionTitle: r.Chunk.SectionTitle,
			Content:      r.Chunk.Content,
			Snippet:      Snippet(r.Chunk.Content, resp.Content),
			StartPage:    r.Chunk.StartPage,
			EndPage:      r.Chunk.EndPage,
			Score:        r.Score,
		}
	}

	return &Answer{
		Text:             resp.Content,
		Provider:         req.Provider,
		Model:            resp.Model,
		Sources:          sources,
		Citations:        ExtractCitations(resp.Content, sources),
		History:          next,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
		ElapsedMs:        elapsed.Milliseconds(),
	}, nil
}

const systemPrompt = `You are a precise document analysis assistant. Answer questions based ONLY on the provided context.
Rules:
1. Only state facts that are directly supported by the provided sources.
2. Cite sources by section title and page, e.g. (Page 3).
3. If the context doesn't contain enough information to answer, say so explicitly.
4. Passages marked [Visual content: ...] describe images on the page.
5. Be concise but thorough.`

func buildAnswerPrompt(question, context string) string {
	if strings.TrimSpace(context) == "" {
		context = "(no matching passages)"
	}
	return fmt.Sprintf(`Context:
%s

Question: %s

Answer based only on the context above. Cite the pages you used.`, context, question)
}
