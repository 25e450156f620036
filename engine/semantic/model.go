package semantic

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
)

// Payload keys stored with every point.
const (
	keyDocument   = "document"
	keyPostingID  = "job_id"
	keyTitle      = "job_title"
	keyCompany    = "company_name"
	keyLocation   = "location"
	keyURL        = "url"
	keyDatePosted = "date_posted"
)

const dateLayout = "2006-01-02"

// Metadata is the display and ranking data stored beside a document.
type Metadata struct {
	PostingID  uuid.UUID  `json:"job_id"`
	Title      string     `json:"job_title"`
	Company    string     `json:"company_name"`
	Location   string     `json:"location,omitempty"`
	URL        string     `json:"url,omitempty"`
	DatePosted *time.Time `json:"date_posted,omitempty"`
}

// Point is one indexed posting.
type Point struct {
	ID       uuid.UUID
	Vector   []float32
	Document string
	Metadata Metadata
}

// Hit is one retrieval result. Distance is 1 - cosine similarity, so smaller
// is nearer.
type Hit struct {
	PostingID uuid.UUID `json:"posting_id"`
	Document  string    `json:"document"`
	Metadata  Metadata  `json:"metadata"`
	Distance  float64   `json:"distance"`
}

// indexDocument is the flattened text form of a posting that gets embedded
// and handed to the scorer.
type indexDocument struct {
	JobID           string   `json:"job_id"`
	Category        string   `json:"category"`
	CompanyName     string   `json:"company_name"`
	JobDescription  string   `json:"job_description"`
	JobTitle        string   `json:"job_title"`
	JobType         string   `json:"job_type"`
	Location        string   `json:"location"`
	EducationLevel  string   `json:"education_level"`
	ExperienceLevel string   `json:"experience_level"`
	SkillsRequired  []string `json:"skills_required"`
	Salary          string   `json:"salary"`
	DatePosted      string   `json:"date_posted"`
}

// Document renders p as the indexed document text.
func Document(p domain.Posting) string {
	d := indexDocument{
		JobID:           p.ID.String(),
		Category:        p.Category.String(),
		CompanyName:     p.Company,
		JobDescription:  p.Description,
		JobTitle:        p.Title,
		JobType:         p.JobType,
		Location:        p.Location,
		EducationLevel:  p.EducationLevel,
		ExperienceLevel: p.ExperienceLevel,
		SkillsRequired:  []string(p.RequiredSkills),
		Salary:          p.Salary,
	}
	if d.SkillsRequired == nil {
		d.SkillsRequired = []string{}
	}
	if p.DatePosted != nil {
		d.DatePosted = p.DatePosted.Format(dateLayout)
	}
	b, _ := json.Marshal(d)
	return string(b)
}

// MetadataOf returns the metadata stored with p.
func MetadataOf(p domain.Posting) Metadata {
	return Metadata{
		PostingID:  p.ID,
		Title:      p.Title,
		Company:    p.Company,
		Location:   p.Location,
		URL:        p.SourceURL,
		DatePosted: p.DatePosted,
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func encodePayload(doc string, m Metadata) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		keyDocument:  stringValue(doc),
		keyPostingID: stringValue(m.PostingID.String()),
		keyTitle:     stringValue(m.Title),
		keyCompany:   stringValue(m.Company),
	}
	if m.Location != "" {
		payload[keyLocation] = stringValue(m.Location)
	}
	if m.URL != "" {
		payload[keyURL] = stringValue(m.URL)
	}
	if m.DatePosted != nil {
		payload[keyDatePosted] = stringValue(m.DatePosted.Format(dateLayout))
	}
	return payload
}

func decodePayload(payload map[string]*pb.Value) (string, Metadata) {
	var m Metadata
	get := func(k string) string { return payload[k].GetStringValue() }

	m.PostingID, _ = uuid.Parse(get(keyPostingID))
	m.Title = get(keyTitle)
	m.Company = get(keyCompany)
	m.Location = get(keyLocation)
	m.URL = get(keyURL)
	if s := strings.TrimSpace(get(keyDatePosted)); s != "" {
		if t, err := time.Parse(dateLayout, s); err == nil {
			m.DatePosted = &t
		}
	}
	return get(keyDocument), m
}
