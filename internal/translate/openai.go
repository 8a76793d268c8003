package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/wing199901/live-translated-captioning/internal/logging"
)

// maxHistoryMessages caps the per-language conversation so a long session
// does not grow the prompt without bound. The system message is always kept.
const maxHistoryMessages = 60

// unhealthyAfter is the number of consecutive backend failures after which
// Health reports the translator as unhealthy.
const unhealthyAfter = 3

// Options configures an OpenAI-backed translator.
type Options struct {
	APIKey    string
	Model     string
	Timeout   time.Duration
	CacheSize int
}

// OpenAI translates text by streaming chat completions for a single target
// language. The chat history accumulates prior segments and translations,
// mirroring a human interpreter keeping the thread of the conversation.
type OpenAI struct {
	client   *openai.Client
	model    string
	language string
	timeout  time.Duration

	mu      sync.Mutex
	history []openai.ChatCompletionMessage
	cache   *lru.Cache[string, string]

	failMu      sync.Mutex
	consecutive int
	lastFailure string
}

// NewOpenAI creates a translator for the given target language.
func NewOpenAI(language string, opts Options) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	cache, err := lru.New[string, string](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create translation cache: %w", err)
	}

	system := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(
			"You are a translator for language: %s. "+
				"Your only response should be the exact translation of the input text in %s.",
			language, language,
		),
	}

	return &OpenAI{
		client:   openai.NewClient(opts.APIKey),
		model:    opts.Model,
		language: language,
		timeout:  opts.Timeout,
		history:  []openai.ChatCompletionMessage{system},
		cache:    cache,
	}, nil
}

// NewOpenAIFactory returns a Factory producing OpenAI translators that all
// share the same credentials and model.
func NewOpenAIFactory(opts Options) Factory {
	return func(language string) (Translator, error) {
		return NewOpenAI(language, opts)
	}
}

// Translate streams a chat completion for text and accumulates the chunks
// into the full translation. Identical segments are served from the cache
// without touching the backend or the conversation history.
func (t *OpenAI) Translate(ctx context.Context, text string) (string, error) {
	if cached, ok := t.cache.Get(text); ok {
		logging.Debug(logging.CategoryTranslate, "translation cache hit language=%s", t.language)
		return cached, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	messages := append(t.history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	stream, err := t.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    t.model,
		Messages: messages,
	})
	if err != nil {
		t.recordFailure(err)
		return "", fmt.Errorf("create completion stream: %w", err)
	}
	defer stream.Close()

	var translated strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Mid-stream truncation: treat the segment as failed rather
			// than delivering a partial translation.
			t.recordFailure(err)
			return "", fmt.Errorf("receive completion chunk: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		translated.WriteString(resp.Choices[0].Delta.Content)
	}

	result := translated.String()
	t.recordSuccess()

	t.history = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: result,
	})
	t.trimHistory()
	t.cache.Add(text, result)

	return result, nil
}

// Health reports unhealthy after several consecutive backend failures.
func (t *OpenAI) Health() Status {
	t.failMu.Lock()
	defer t.failMu.Unlock()

	if t.consecutive >= unhealthyAfter {
		return Status{
			Healthy: false,
			Message: fmt.Sprintf("%d consecutive failures, last: %s", t.consecutive, t.lastFailure),
		}
	}
	return Status{Healthy: true}
}

func (t *OpenAI) recordFailure(err error) {
	t.failMu.Lock()
	t.consecutive++
	t.lastFailure = err.Error()
	t.failMu.Unlock()
}

func (t *OpenAI) recordSuccess() {
	t.failMu.Lock()
	t.consecutive = 0
	t.lastFailure = ""
	t.failMu.Unlock()
}

// trimHistory drops the oldest turns past the cap, preserving the system
// message at index 0.
func (t *OpenAI) trimHistory() {
	if len(t.history) <= maxHistoryMessages {
		return
	}
	trimmed := make([]openai.ChatCompletionMessage, 0, maxHistoryMessages)
	trimmed = append(trimmed, t.history[0])
	trimmed = append(trimmed, t.history[len(t.history)-(maxHistoryMessages-1):]...)
	t.history = trimmed
}
