package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/resilience"
)

const (
	listingsSystem = "Extract job list from the given text. Respond with JSON only."
	postingSystem  = "Extract job detail from the given text. Respond with JSON only."
)

var listingsSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"jobs": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"title":   {Type: genai.TypeString},
					"company": {Type: genai.TypeString},
					"url":     {Type: genai.TypeString},
				},
				Required: []string{"title", "url"},
			},
		},
	},
	Required: []string{"jobs"},
}

var postingSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"job_title":           {Type: genai.TypeString},
		"company_name":        {Type: genai.TypeString},
		"location":            {Type: genai.TypeString},
		"job_description":     {Type: genai.TypeString},
		"skills_required":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"date_posted":         {Type: genai.TypeString, Description: "YYYY-MM-DD or empty"},
		"job_type":            {Type: genai.TypeString},
		"industry":            {Type: genai.TypeString},
		"experience_level":    {Type: genai.TypeString},
		"education_level":     {Type: genai.TypeString},
		"salary":              {Type: genai.TypeString},
		"company_industry":    {Type: genai.TypeString},
		"company_description": {Type: genai.TypeString},
		"company_size":        {Type: genai.TypeString},
		"company_logo":        {Type: genai.TypeString},
	},
	Required: []string{"job_title", "company_name", "job_description", "skills_required"},
}

type listingsResponse struct {
	Jobs []domain.Listing `json:"jobs"`
}

type postingResponse struct {
	Title              string        `json:"job_title"`
	Company            string        `json:"company_name"`
	Location           string        `json:"location"`
	Description        string        `json:"job_description"`
	Skills             domain.Skills `json:"skills_required"`
	DatePosted         string        `json:"date_posted"`
	JobType            string        `json:"job_type"`
	Industry           string        `json:"industry"`
	ExperienceLevel    string        `json:"experience_level"`
	EducationLevel     string        `json:"education_level"`
	Salary             string        `json:"salary"`
	CompanyIndustry    string        `json:"company_industry"`
	CompanyDescription string        `json:"company_description"`
	CompanySize        string        `json:"company_size"`
	CompanyLogo        string        `json:"company_logo"`
}

// Extractor turns page text into listings and posting fields.
type Extractor struct {
	client
	now func() time.Time
}

// NewExtractor creates an Extractor. A nil breaker gets a default one.
func NewExtractor(gen generator, breaker *resilience.Breaker, log *zap.Logger) *Extractor {
	return &Extractor{client: newClient(gen, breaker, log), now: time.Now}
}

// ExtractListings returns the job entries of a search result page. Entries
// without a title or URL are dropped; a page with no jobs yields an empty
// slice.
func (e *Extractor) ExtractListings(ctx context.Context, content string) ([]domain.Listing, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &domain.ExtractionError{Source: "listings", Err: domain.ErrEmptyContent}
	}

	prompt := render(listingsTemplate, "{{CONTENT}}", clip(content, maxContentRunes))
	raw, err := e.generate(ctx, "extract_listings", listingsSystem, prompt, listingsSchema)
	if err != nil {
		return nil, &domain.ExtractionError{Source: "listings", Err: err}
	}

	var resp listingsResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, &domain.ExtractionError{Source: "listings", Err: fmt.Errorf("parse response: %w", err)}
	}

	out := make([]domain.Listing, 0, len(resp.Jobs))
	for _, l := range resp.Jobs {
		l.Title = strings.TrimSpace(l.Title)
		l.Company = strings.TrimSpace(l.Company)
		l.URL = strings.TrimSpace(l.URL)
		if l.Title == "" || l.URL == "" {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// ExtractPosting returns the structured fields of a posting detail page.
// SourceURL is left for the caller to fill.
func (e *Extractor) ExtractPosting(ctx context.Context, content string) (domain.PostingFields, error) {
	if strings.TrimSpace(content) == "" {
		return domain.PostingFields{}, &domain.ExtractionError{Source: "posting", Err: domain.ErrEmptyContent}
	}

	prompt := render(postingTemplate,
		"{{TODAY}}", e.now().Format(time.DateOnly),
		"{{CONTENT}}", clip(content, maxContentRunes))
	raw, err := e.generate(ctx, "extract_posting", postingSystem, prompt, postingSchema)
	if err != nil {
		return domain.PostingFields{}, &domain.ExtractionError{Source: "posting", Err: err}
	}

	var resp postingResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return domain.PostingFields{}, &domain.ExtractionError{Source: "posting", Err: fmt.Errorf("parse response: %w", err)}
	}
	if strings.TrimSpace(resp.Title) == "" {
		return domain.PostingFields{}, &domain.ExtractionError{Source: "posting", Err: domain.ErrEmptyContent}
	}

	return domain.PostingFields{
		Title:              strings.TrimSpace(resp.Title),
		Company:            strings.TrimSpace(resp.Company),
		Location:           strings.TrimSpace(resp.Location),
		Description:        strings.TrimSpace(resp.Description),
		RequiredSkills:     resp.Skills,
		DatePosted:         parseDate(resp.DatePosted),
		JobType:            resp.JobType,
		Industry:           resp.Industry,
		ExperienceLevel:    resp.ExperienceLevel,
		EducationLevel:     resp.EducationLevel,
		Salary:             resp.Salary,
		CompanyIndustry:    resp.CompanyIndustry,
		CompanyDescription: resp.CompanyDescription,
		CompanySize:        resp.CompanySize,
		CompanyLogo:        resp.CompanyLogo,
	}, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp; anything else
// is an unknown date.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}
