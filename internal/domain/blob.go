package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MemoryBlob is the plaintext payload of one memory. It exists only
// transiently in memory during encryption and decryption; at rest it is
// always a sealed payload addressed by the referencing envelope. The
// protocol does not constrain the content format.
type MemoryBlob struct {
	ID          uuid.UUID `json:"blob_id" cbor:"blob_id"`
	CreatedAt   time.Time `json:"created_at" cbor:"created_at"`
	ContentType string    `json:"content_type" cbor:"content_type"`
	Content     []byte    `json:"content" cbor:"content"`
}

func (b *MemoryBlob) Validate() error {
	if b.ID == uuid.Nil {
		return errors.New("blob: id is required")
	}
	if b.CreatedAt.IsZero() {
		return errors.New("blob: created_at is required")
	}
	if b.ContentType == "" {
		return errors.New("blob: content type is required")
	}
	if len(b.Content) == 0 {
		return errors.New("blob: content is required")
	}
	return nil
}
