// Package models defines core data structures for reference sets, inquiries, chat, and ingestion.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidInput marks a request rejected before any side effect.
var ErrInvalidInput = errors.New("invalid input")

// ReferenceSet is a named collection of ingested documents scoped to one domain.
type ReferenceSet struct {
	ID          string    `json:"id" db:"id"`
	Domain      string    `json:"domain" db:"domain"`
	Description string    `json:"description" db:"description"`
	FileCount   int64     `json:"file_count" db:"file_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ReferenceSetInput is the input for creating a reference set.
type ReferenceSetInput struct {
	Domain      string `json:"domain"`
	Description string `json:"description,omitempty"`
}

// Validate trims the input and requires a domain name.
func (in *ReferenceSetInput) Validate() error {
	in.Domain = strings.TrimSpace(in.Domain)
	in.Description = strings.TrimSpace(in.Description)
	if in.Domain == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidInput)
	}
	return nil
}
