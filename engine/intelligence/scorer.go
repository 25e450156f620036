package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/engine/rank"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/resilience"
)

var scoreSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"jobs": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"job_id":         {Type: genai.TypeString},
					"match_score":    {Type: genai.TypeNumber, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(100.0)},
					"matched_skills": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					"reason":         {Type: genai.TypeString},
				},
				Required: []string{"job_id", "match_score", "matched_skills", "reason"},
			},
		},
	},
	Required: []string{"jobs"},
}

type scoredJob struct {
	JobID         string   `json:"job_id"`
	MatchScore    *float64 `json:"match_score"`
	MatchedSkills []string `json:"matched_skills"`
	Reason        string   `json:"reason"`
}

type scoreResponse struct {
	Jobs []scoredJob `json:"jobs"`
}

// Scorer asks the model for rubric scores of one chunk of postings.
type Scorer struct {
	client
}

// NewScorer creates a Scorer. A nil breaker gets a default one.
func NewScorer(gen generator, breaker *resilience.Breaker, log *zap.Logger) *Scorer {
	return &Scorer{client: newClient(gen, breaker, log)}
}

var _ rank.Scorer = (*Scorer)(nil)

// Score implements rank.Scorer. Output that is not valid JSON, names a job
// without a valid id, or carries a score outside 0..100 fails the whole
// chunk with a *domain.ScoringError.
func (s *Scorer) Score(ctx context.Context, req rank.ScoreRequest) ([]rank.Score, error) {
	fail := func(err error) error { return &domain.ScoringError{Chunk: req.Chunk, Err: err} }

	system, prompt := buildScorePrompts(req)
	raw, err := s.generate(ctx, "score", system, prompt, scoreSchema)
	if err != nil {
		return nil, fail(err)
	}

	var resp scoreResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fail(fmt.Errorf("parse response: %w", err))
	}

	out := make([]rank.Score, 0, len(resp.Jobs))
	for i, j := range resp.Jobs {
		id, err := uuid.Parse(strings.TrimSpace(j.JobID))
		if err != nil {
			return nil, fail(fmt.Errorf("job %d: invalid job_id %q", i, j.JobID))
		}
		if j.MatchScore == nil {
			return nil, fail(fmt.Errorf("job %s: missing match_score", id))
		}
		score := *j.MatchScore
		if math.IsNaN(score) || score < domain.MinScore || score > domain.MaxScore {
			return nil, fail(fmt.Errorf("job %s: match_score %v out of range", id, score))
		}
		out = append(out, rank.Score{
			PostingID:     id,
			BaseScore:     score,
			MatchedSkills: j.MatchedSkills,
			Reason:        strings.TrimSpace(j.Reason),
		})
	}
	return out, nil
}

func buildScorePrompts(req rank.ScoreRequest) (string, string) {
	var postings strings.Builder
	for i, h := range req.Postings {
		fmt.Fprintf(&postings, "Posting %d (job_id=%s):\n%s\n\n", i+1, h.PostingID, strings.TrimSpace(h.Document))
	}

	w := req.Rubric
	system := render(scoreSystemTemplate,
		"{{W_TECHNICAL}}", strconv.Itoa(w.Technical),
		"{{W_EXPERIENCE}}", strconv.Itoa(w.Experience),
		"{{W_INDUSTRY}}", strconv.Itoa(w.IndustryRole),
		"{{W_LOCATION}}", strconv.Itoa(w.Location),
		"{{W_CERTIFICATION}}", strconv.Itoa(w.Certification),
		"{{W_EDUCATION}}", strconv.Itoa(w.Education),
		"{{W_RECENCY}}", strconv.Itoa(w.Recency),
		"{{POSTINGS}}", strings.TrimSpace(postings.String()))

	skills := "none"
	if len(req.Profile.Skills) > 0 {
		skills = strings.Join(req.Profile.Skills, ", ")
	}
	experience := strings.TrimSpace(req.Profile.Experience)
	if experience == "" {
		experience = "none"
	}
	user := render(scoreUserTemplate,
		"{{PROFILE}}", clip(strings.TrimSpace(req.Profile.Text), maxContentRunes),
		"{{SKILLS}}", skills,
		"{{EXPERIENCE}}", experience)
	return system, user
}
