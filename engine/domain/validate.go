package domain

import (
	"strings"
	"unicode/utf8"
)

const maxTitleLength = 512

// ValidatePostingFields checks extractor output before it is persisted. On
// success SourceURL is replaced by its canonical form.
func ValidatePostingFields(f *PostingFields) error {
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return NewValidationError("title", f.Title, ErrInvalidPosting)
	}
	if utf8.RuneCountInString(f.Title) > maxTitleLength {
		return NewValidationError("title", runePrefix(f.Title, 64), ErrInvalidPosting)
	}
	canon, err := CanonicalURL(f.SourceURL)
	if err != nil {
		return err
	}
	f.SourceURL = canon
	f.Company = strings.TrimSpace(f.Company)
	if f.RequiredSkills == nil {
		f.RequiredSkills = Skills{}
	}
	return nil
}

// ValidateProfile checks a candidate profile before matching.
func ValidateProfile(p CandidateProfile) error {
	if strings.TrimSpace(p.Text) == "" && len(p.Skills) == 0 {
		return NewValidationError("text", p.Text, ErrEmptyContent)
	}
	return nil
}

// runePrefix returns at most n runes of s without splitting a character.
func runePrefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
