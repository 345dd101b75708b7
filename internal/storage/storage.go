// Package storage defines the persistence interface for reference sets and inquiries.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/refdesk/internal/models"
)

// ErrNotFound is returned when a reference set or inquiry does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines reference set and inquiry persistence operations.
type Storage interface {
	// Reference set operations
	CreateReferenceSet(ctx context.Context, set *models.ReferenceSet) error
	GetReferenceSet(ctx context.Context, id string) (*models.ReferenceSet, error)
	ListReferenceSets(ctx context.Context) ([]*models.ReferenceSet, error)
	// IncrementFileCount adds one to a reference set's file count atomically.
	IncrementFileCount(ctx context.Context, id string) error

	// Inquiry operations
	CreateInquiry(ctx context.Context, inq *models.Inquiry) error
	GetInquiry(ctx context.Context, id string) (*models.Inquiry, error)
	ListInquiries(ctx context.Context) ([]*models.Inquiry, error)
	AddMessage(ctx context.Context, inquiryID string, msg *models.Message) error

	// Stats
	CountReferenceSets(ctx context.Context) (int64, error)
	CountInquiries(ctx context.Context) (int64, error)

	Close() error
}
