// Package domain defines core domain types, constants, and validation for the
// cari-fit crawl, index and match pipeline. It acts as the validation gate at
// pipeline entry points.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category classifies postings and candidate profiles. Each routable category
// owns one similarity collection.
type Category string

const (
	CategoryTechnology    Category = "Teknologi"
	CategoryBusiness      Category = "Bisnis dan Manajemen"
	CategoryCreative      Category = "Kreatif"
	CategoryManufacturing Category = "Industri dan Manufaktur"

	// CategoryUnspecified marks a posting or profile with no usable category.
	CategoryUnspecified Category = "unspecified"
)

// Categories is the fixed set of routable categories in display order.
var Categories = []Category{
	CategoryTechnology,
	CategoryBusiness,
	CategoryCreative,
	CategoryManufacturing,
}

// ParseCategory maps a free-form label to a Category. Matching is
// case-insensitive; empty, "None", "null" and unknown labels yield
// CategoryUnspecified.
func ParseCategory(label string) Category {
	label = strings.TrimSpace(label)
	for _, c := range Categories {
		if strings.EqualFold(label, string(c)) {
			return c
		}
	}
	return CategoryUnspecified
}

// Routable reports whether c selects a collection.
func (c Category) Routable() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string { return string(c) }

// CategoryKeywords is one entry of the crawl plan: the search keywords to
// visit, in order, for a category.
type CategoryKeywords struct {
	Category Category `json:"category" mapstructure:"name"`
	Keywords []string `json:"keywords" mapstructure:"keywords"`
}

// Listing is one entry of a search-result page.
type Listing struct {
	Title   string `json:"title"`
	Company string `json:"company"`
	URL     string `json:"url"`
}

// PostingFields is the structured output of the extractor for one posting
// detail page, before persistence assigns identity.
type PostingFields struct {
	Title              string     `json:"title"`
	Company            string     `json:"company"`
	Location           string     `json:"location"`
	Description        string     `json:"description"`
	RequiredSkills     Skills     `json:"required_skills"`
	DatePosted         *time.Time `json:"date_posted,omitempty"`
	SourceURL          string     `json:"source_url"`
	JobType            string     `json:"job_type"`
	Industry           string     `json:"industry"`
	ExperienceLevel    string     `json:"experience_level"`
	EducationLevel     string     `json:"education_level"`
	Salary             string     `json:"salary"`
	CompanyIndustry    string     `json:"company_industry"`
	CompanyDescription string     `json:"company_description"`
	CompanySize        string     `json:"company_size"`
	CompanyLogo        string     `json:"company_logo"`
}

// Posting is one persisted job listing, unique by SourceURL.
type Posting struct {
	ID       uuid.UUID `json:"id"`
	Category Category  `json:"category"`
	PostingFields
	Indexed   bool      `json:"indexed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary returns the display projection used in recommendations.
func (p Posting) Summary() PostingSummary {
	return PostingSummary{
		ID:             p.ID,
		Title:          p.Title,
		Company:        p.Company,
		Location:       p.Location,
		RequiredSkills: p.RequiredSkills,
		Description:    p.Description,
		URL:            p.SourceURL,
	}
}

// CandidateProfile is the parsed CV input to a matching run.
type CandidateProfile struct {
	Text       string   `json:"text"`
	Skills     Skills   `json:"skills"`
	Experience string   `json:"experience"`
	Category   Category `json:"category"`
}

// MatchRequest asks for a fresh recommendation set for one user.
type MatchRequest struct {
	User    string           `json:"user"`
	CVID    string           `json:"cv_id,omitempty"`
	Profile CandidateProfile `json:"profile"`
}

// MatchResult is one scored posting produced by the ranker.
type MatchResult struct {
	PostingID     uuid.UUID `json:"posting_id"`
	Score         float64   `json:"score"`
	BaseScore     float64   `json:"base_score"`
	Multiplier    float64   `json:"multiplier"`
	MatchedSkills []string  `json:"matched_skills"`
	Reason        string    `json:"reason"`
	Title         string    `json:"title"`
	Company       string    `json:"company"`
	Location      string    `json:"location,omitempty"`
	URL           string    `json:"url,omitempty"`
}

// PostingSummary is the posting projection carried by a Recommendation.
type PostingSummary struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	Company        string    `json:"company"`
	Location       string    `json:"location"`
	RequiredSkills Skills    `json:"requiredSkills"`
	Description    string    `json:"description"`
	URL            string    `json:"url"`
}

// Recommendation is a persisted per-user match, replaced wholesale on every
// matching run.
type Recommendation struct {
	User          string         `json:"user"`
	Posting       PostingSummary `json:"posting"`
	Score         float64        `json:"score"`
	MatchedSkills []string       `json:"matchedSkills"`
	Reason        string         `json:"reason"`
	ComputedAt    time.Time      `json:"computedAt"`
}

const (
	MinScore = 0
	MaxScore = 100
)

// ClampScore bounds s to [MinScore, MaxScore].
func ClampScore(s float64) float64 {
	if s != s { // NaN
		return MinScore
	}
	return min(max(s, MinScore), MaxScore)
}
