package models

import (
	"fmt"
	"strings"
	"time"
)

// Message roles stored on an inquiry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Inquiry is a saved question thread scoped to one or more reference sets.
type Inquiry struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	ReferenceSetIDs []string   `json:"reference_set_ids"`
	Messages        []*Message `json:"messages"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Message is one turn of an inquiry.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Citations []string  `json:"citations,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InquiryInput is the input for creating an inquiry.
type InquiryInput struct {
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	ReferenceSetIDs []string `json:"reference_set_ids"`
}

// Validate trims fields, drops blank and duplicate reference set ids (keeping order),
// and requires a title and at least one reference set.
func (in *InquiryInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	in.ReferenceSetIDs = uniqueIDs(in.ReferenceSetIDs)
	if len(in.ReferenceSetIDs) == 0 {
		return fmt.Errorf("%w: at least one reference set is required", ErrInvalidInput)
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
