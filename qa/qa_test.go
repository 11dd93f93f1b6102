package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brunobiangulo/docqa/llm"
	"github.com/brunobiangulo/docqa/retrieval"
	"github.com/brunobiangulo/docqa/store"
)

type memHistory struct {
	h     map[string][]store.ChatMessage
	saves int
}

func newMemHistory() *memHistory {
	return &memHistory{h: make(map[string][]store.ChatMessage)}
}

func (m *memHistory) GetChatHistory(ctx context.Context, doc, provider string) (*store.ChatHistory, error) {
	msgs := append([]store.ChatMessage{}, m.h[doc+"/"+provider]...)
	return &store.ChatHistory{DocumentID: doc, Provider: provider, Messages: msgs}, nil
}

func (m *memHistory) SaveChatHistory(ctx context.Context, h store.ChatHistory) error {
	m.saves++
	m.h[h.DocumentID+"/"+h.Provider] = h.Messages
	return nil
}

type mockChat struct {
	reply string
	err   error
	last  llm.ChatRequest
}

func (m *mockChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ChatResponse{Content: m.reply, Model: "mock", TotalTokens: 7}, nil
}

func results() []retrieval.Result {
	return []retrieval.Result{{
		Chunk: store.Chunk{ID: "c1", SectionTitle: "Results", Content: "Revenue grew 12%.", StartPage: 3, EndPage: 4},
		Score: 0.9,
	}}
}

func TestAskPersistsHistory(t *testing.T) {
	hist := newMemHistory()
	a := New(hist, 0)
	chat := &mockChat{reply: "Revenue grew 12% (Page 3)."}

	ans, err := a.Ask(context.Background(), chat, Request{
		DocumentID: "d1", Provider: "openai", Question: "How did revenue change?", Results: results(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != chat.reply || ans.TotalTokens != 7 {
		t.Errorf("answer = %+v", ans)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].ChunkID != "c1" {
		t.Errorf("sources = %+v", ans.Sources)
	}
	if len(ans.Citations) != 1 || !ans.Citations[0].Verified || ans.Citations[0].Page != 3 {
		t.Errorf("citations = %+v", ans.Citations)
	}

	got := hist.h["d1/openai"]
	if len(got) != 2 || got[0].Role != "user" || got[0].Content != "How did revenue change?" || got[1].Role != "assistant" {
		t.Fatalf("history = %+v", got)
	}

	// The context block goes to the model but is not stored.
	last := chat.last.Messages[len(chat.last.Messages)-1]
	if !strings.Contains(last.Content, `[Source: "Results", Page 3]`) {
		t.Errorf("prompt missing context: %q", last.Content)
	}
	if chat.last.Messages[0].Role != "system" {
		t.Errorf("first message role = %q", chat.last.Messages[0].Role)
	}
}

func TestAskReplaysHistory(t *testing.T) {
	hist := newMemHistory()
	a := New(hist, 0)
	chat := &mockChat{reply: "first"}
	req := Request{DocumentID: "d1", Provider: "groq", Question: "q1", Results: results()}
	if _, err := a.Ask(context.Background(), chat, req); err != nil {
		t.Fatal(err)
	}
	chat.reply = "second"
	req.Question = "q2"
	ans, err := a.Ask(context.Background(), chat, req)
	if err != nil {
		t.Fatal(err)
	}
	// system + 2 prior + new user
	if n := len(chat.last.Messages); n != 4 {
		t.Errorf("messages sent = %d, want 4", n)
	}
	if len(ans.History) != 4 {
		t.Errorf("history len = %d, want 4", len(ans.History))
	}
}

func TestAskHistoryWindow(t *testing.T) {
	hist := newMemHistory()
	for i := 0; i < 30; i++ {
		hist.h["d1/openai"] = append(hist.h["d1/openai"], store.ChatMessage{Role: "user", Content: "old"})
	}
	chat := &mockChat{reply: "ok"}
	if _, err := New(hist, 4).Ask(context.Background(), chat, Request{DocumentID: "d1", Provider: "openai", Question: "q"}); err != nil {
		t.Fatal(err)
	}
	if n := len(chat.last.Messages); n != 6 {
		t.Errorf("messages sent = %d, want 6", n)
	}
	if n := len(hist.h["d1/openai"]); n != 32 {
		t.Errorf("stored = %d, want 32", n)
	}
}

func TestAskFailureRollsBack(t *testing.T) {
	hist := newMemHistory()
	hist.h["d1/openai"] = []store.ChatMessage{
		{Role: "user", Content: "q0"},
		{Role: "assistant", Content: "a0"},
	}
	boom := errors.New("quota exceeded")
	_, err := New(hist, 0).Ask(context.Background(), &mockChat{err: boom}, Request{
		DocumentID: "d1", Provider: "openai", Question: "q1", Results: results(),
	})
	if !errors.Is(err, boom) || !errors.Is(err, ErrChatFailed) {
		t.Fatalf("err = %v, want %v wrapped in ErrChatFailed", err, boom)
	}
	if hist.saves != 0 {
		t.Errorf("saves = %d, want 0", hist.saves)
	}
	if got := hist.h["d1/openai"]; len(got) != 2 || got[1].Content != "a0" {
		t.Errorf("history = %+v", got)
	}
}

func TestAskEmptyQuestion(t *testing.T) {
	chat := &mockChat{reply: "x"}
	_, err := New(newMemHistory(), 0).Ask(context.Background(), chat, Request{Question: "  "})
	if !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("err = %v, want ErrEmptyQuestion", err)
	}
}

func TestExtractCitations(t *testing.T) {
	sources := []Source{
		{ChunkID: "a", SectionTitle: "Overview", StartPage: 1, EndPage: 2},
		{ChunkID: "b", SectionTitle: "Methods", StartPage: 5, EndPage: 5},
	}
	answer := `See page 2 and Page 5, also p. 9. [Source: "Methods", Page 5] and [Source: "Missing"`
	got := ExtractCitations(answer, sources)

	want := map[string]struct {
		verified bool
		chunk    string
	}{
		"page 2":  {true, "a"},
		"Page 5":  {true, "b"},
		"p. 9":    {false, ""},
		"Methods": {true, "b"},
		"Missing": {false, ""},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d citations: %+v", len(got), got)
	}
	for _, c := range got {
		w, ok := want[c.Text]
		if !ok {
			t.Errorf("unexpected citation %q", c.Text)
			continue
		}
		if c.Verified != w.verified || c.ChunkID != w.chunk {
			t.Errorf("%q: verified=%v chunk=%q", c.Text, c.Verified, c.ChunkID)
		}
	}
}

type failingSave struct{ *memHistory }

func (f failingSave) SaveChatHistory(ctx context.Context, h store.ChatHistory) error {
	return errors.New("database is locked")
}

func TestAskSaveFailureIsNotChatFailure(t *testing.T) {
	_, err := New(failingSave{newMemHistory()}, 0).Ask(context.Background(), &mockChat{reply: "x"}, Request{
		DocumentID: "d1", Provider: "openai", Question: "q", Results: results(),
	})
	if err == nil || errors.Is(err, ErrChatFailed) {
		t.Errorf("save failure err = %v, want a non-chat error", err)
	}
}

// lockedHistory is safe for concurrent use but, like the SQLite store,
// does not make a read followed by a write atomic.
type lockedHistory struct {
	mu sync.Mutex
	h  map[string][]store.ChatMessage
}

func (l *lockedHistory) GetChatHistory(ctx context.Context, doc, provider string) (*store.ChatHistory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := append([]store.ChatMessage{}, l.h[doc+"/"+provider]...)
	return &store.ChatHistory{DocumentID: doc, Provider: provider, Messages: msgs}, nil
}

func (l *lockedHistory) SaveChatHistory(ctx context.Context, h store.ChatHistory) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.h[h.DocumentID+"/"+h.Provider] = h.Messages
	return nil
}

type slowChat struct{}

func (slowChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	time.Sleep(2 * time.Millisecond)
	return &llm.ChatResponse{Content: "ok", Model: "mock"}, nil
}

func TestAskConcurrentSameConversation(t *testing.T) {
	hist := &lockedHistory{h: make(map[string][]store.ChatMessage)}
	a := New(hist, 0)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.Ask(context.Background(), slowChat{}, Request{
				DocumentID: "d1", Provider: "openai", Question: fmt.Sprintf("q%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if got := len(hist.h["d1/openai"]); got != 2*n {
		t.Errorf("stored messages = %d, want %d", got, 2*n)
	}
}

func TestAskWaitRespectsContext(t *testing.T) {
	a := New(newMemHistory(), 0)
	release, err := a.acquire(context.Background(), "d1", "openai")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.Ask(ctx, &mockChat{reply: "x"}, Request{DocumentID: "d1", Provider: "openai", Question: "q"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}
