package database

import (
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ErrNoDatabase is returned by history reads when DATABASE_TYPE is none
var ErrNoDatabase = errors.New("extraction history is disabled")

// ErrExtractionNotFound is returned when no extraction has the requested ID
var ErrExtractionNotFound = errors.New("extraction not found")

// ExtractionStatus is the outcome of one upload
type ExtractionStatus string

const (
	ExtractionSuccess     ExtractionStatus = "success"
	ExtractionNotFound    ExtractionStatus = "not_found"
	ExtractionDecodeError ExtractionStatus = "decode_error"
	ExtractionOpenError   ExtractionStatus = "open_error"
	ExtractionFailed      ExtractionStatus = "failed"
)

// Extraction is the history record of one upload
type Extraction struct {
	ID           ulid.ULID        `json:"id"`
	FileName     string           `json:"fileName"`
	Status       ExtractionStatus `json:"status"`
	Pages        int              `json:"pages"`
	PayloadCount int              `json:"payloadCount"`
	DecodeErrors int              `json:"decodeErrors"`
	Payload      string           `json:"payload,omitempty"` // first QR payload, verbatim
	Error        string           `json:"error,omitempty"`
	DurationMS   int64            `json:"durationMs"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// Repository defines database operations
type Repository interface {
	Close() error
	SaveExtraction(extraction *Extraction) error
	GetExtraction(id ulid.ULID) (*Extraction, error)
	GetRecentExtractions(limit, offset int) ([]Extraction, error)
	DeleteOldExtractions(olderThan time.Duration) (int, error)
}

// CalculateUUID returns a ULID for the given time
func CalculateUUID(t time.Time) (ulid.ULID, error) {
	return ulid.New(ulid.Timestamp(t), ulid.DefaultEntropy())
}

// nopRepository keeps nothing, used when history is disabled
type nopRepository struct{}

func (nopRepository) Close() error { return nil }

func (nopRepository) SaveExtraction(extraction *Extraction) error { return nil }

func (nopRepository) GetExtraction(id ulid.ULID) (*Extraction, error) {
	return nil, ErrNoDatabase
}

func (nopRepository) GetRecentExtractions(limit, offset int) ([]Extraction, error) {
	return nil, ErrNoDatabase
}

func (nopRepository) DeleteOldExtractions(olderThan time.Duration) (int, error) { return 0, nil }
