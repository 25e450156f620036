// Package intelligence adapts the LLM behind pkg/gemini to the pipeline:
// extracting listings and posting fields from page text, and scoring
// retrieved postings against a candidate profile.
package intelligence

import (
	"context"
	_ "embed"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/IsmailZhaf/cari-fit-backend/pkg/logger"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/resilience"
)

// generator is the part of *gemini.Generator the adapters need.
type generator interface {
	GenerateJSON(ctx context.Context, system, prompt string, schema *genai.Schema) (string, error)
	Model() string
}

const defaultMaxLogLength = 200

// maxContentRunes bounds the page text sent to the model.
const maxContentRunes = 60000

var (
	//go:embed prompts/score_system.md
	scoreSystemTemplate string
	//go:embed prompts/score_user.md
	scoreUserTemplate string
	//go:embed prompts/extract_listings.md
	listingsTemplate string
	//go:embed prompts/extract_posting.md
	postingTemplate string
)

// client holds what every adapter shares: the generator, its breaker and
// the logger.
type client struct {
	gen       generator
	breaker   *resilience.Breaker
	log       *zap.Logger
	maxLogLen int
}

func newClient(gen generator, breaker *resilience.Breaker, log *zap.Logger) client {
	log = logger.OrNop(log)
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.BreakerOpts{Name: "intelligence"}, log)
	}
	return client{gen: gen, breaker: breaker, log: log, maxLogLen: defaultMaxLogLength}
}

func (c client) generate(ctx context.Context, op, system, prompt string, schema *genai.Schema) (string, error) {
	c.log.Debug("gemini generate content request",
		zap.String("op", op),
		zap.String(logger.FieldModel, c.gen.Model()),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.Truncate(prompt, c.maxLogLen)))

	raw, err := resilience.Do(ctx, c.breaker, func(ctx context.Context) (string, error) {
		return c.gen.GenerateJSON(ctx, system, prompt, schema)
	})
	if err != nil {
		return "", err
	}

	c.log.Debug("gemini generate content response",
		zap.String("op", op),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.Truncate(raw, c.maxLogLen)))
	return raw, nil
}

func render(template string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(template)
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
