package database

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunExtraction represents the extractions table for Bun ORM
type BunExtraction struct {
	bun.BaseModel `bun:"table:extractions,alias:e"`

	ID           string    `bun:"id,pk"` // ULID as string
	FileName     string    `bun:"file_name,notnull"`
	Status       string    `bun:"status,notnull"`
	Pages        int       `bun:"pages,default:0"`
	PayloadCount int       `bun:"payload_count,default:0"`
	DecodeErrors int       `bun:"decode_errors,default:0"`
	Payload      string    `bun:"payload,nullzero"`
	Error        string    `bun:"error,nullzero"`
	DurationMS   int64     `bun:"duration_ms,default:0"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// ToExtraction converts BunExtraction to Extraction
func (be *BunExtraction) ToExtraction() (*Extraction, error) {
	parsedULID, err := ulid.Parse(be.ID)
	if err != nil {
		return nil, err
	}

	return &Extraction{
		ID:           parsedULID,
		FileName:     be.FileName,
		Status:       ExtractionStatus(be.Status),
		Pages:        be.Pages,
		PayloadCount: be.PayloadCount,
		DecodeErrors: be.DecodeErrors,
		Payload:      be.Payload,
		Error:        be.Error,
		DurationMS:   be.DurationMS,
		CreatedAt:    be.CreatedAt,
	}, nil
}

// FromExtraction converts Extraction to BunExtraction
func FromExtraction(extraction *Extraction) *BunExtraction {
	return &BunExtraction{
		ID:           extraction.ID.String(),
		FileName:     extraction.FileName,
		Status:       string(extraction.Status),
		Pages:        extraction.Pages,
		PayloadCount: extraction.PayloadCount,
		DecodeErrors: extraction.DecodeErrors,
		Payload:      extraction.Payload,
		Error:        extraction.Error,
		DurationMS:   extraction.DurationMS,
		CreatedAt:    extraction.CreatedAt,
	}
}
