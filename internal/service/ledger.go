package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemoslabs/mnemos/internal/codec"
	"github.com/mnemoslabs/mnemos/internal/domain"
	"github.com/mnemoslabs/mnemos/internal/metrics"
	"github.com/mnemoslabs/mnemos/internal/store"
)

// ErrContentMismatch means decrypted content does not hash back to the
// envelope's content hash: the storage backend returned bytes the
// writer never attested.
var ErrContentMismatch = errors.New("service: decrypted content does not match envelope hash")

// Ledger owns the write path: plaintext in, sealed blob to the content
// store, attested envelope to the index. The multi-step sequence is not
// atomic across steps; a crash between blob-store and envelope-store
// leaves an orphaned blob that reconciliation detects later.
type Ledger struct {
	codec    *codec.Codec
	content  domain.ContentStore
	index    domain.EnvelopeIndex
	metrics  metrics.Collector
	logger   *zap.Logger
	attester string
}

// NewLedger wires a ledger for one local identity. attesterID is the
// principal recorded on self-signed attestations, normally the kernel
// id.
func NewLedger(c *codec.Codec, content domain.ContentStore, index domain.EnvelopeIndex, attesterID string, collector metrics.Collector, logger *zap.Logger) *Ledger {
	if collector == nil {
		collector = metrics.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		codec:    c,
		content:  content,
		index:    index,
		metrics:  collector,
		logger:   logger,
		attester: attesterID,
	}
}

// RememberOpts shape a new memory envelope.
type RememberOpts struct {
	ContentType string
	Scope       domain.Scope
	Kind        domain.Kind
	RiskClass   domain.RiskClass
	TopicTags   []string
	PolicyID    *uuid.UUID
	TTLHint     time.Duration
	Parents     []uuid.UUID
	Supersedes  []uuid.UUID
	Branches    []uuid.UUID
}

// Remember runs the full write path: encrypt the plaintext into a
// sealed blob, store it by content address, then build, self-attest,
// and index the referencing envelope. The returned envelope always
// carries at least one attestation.
func (l *Ledger) Remember(ctx context.Context, plaintext []byte, opts RememberOpts) (*domain.Envelope, error) {
	now := time.Now().UTC()

	if opts.ContentType == "" {
		opts.ContentType = "text/plain"
	}
	if opts.Scope == "" {
		opts.Scope = domain.ScopeAgent
	}
	if opts.Kind == "" {
		opts.Kind = domain.KindSemantic
	}
	if opts.RiskClass == "" {
		opts.RiskClass = domain.RiskLow
	}

	blob := domain.MemoryBlob{
		ID:          uuid.New(),
		CreatedAt:   now,
		ContentType: opts.ContentType,
		Content:     plaintext,
	}
	if err := blob.Validate(); err != nil {
		return nil, err
	}

	// Hash the canonical plaintext before sealing so reads can verify
	// decrypted content without trusting storage.
	contentHash := codec.Hash(blob.Content).Hex()

	blobBytes, err := codec.Marshal(&blob)
	if err != nil {
		return nil, fmt.Errorf("service: encoding blob: %w", err)
	}
	sealed, err := l.codec.Encrypt(blobBytes)
	if err != nil {
		return nil, fmt.Errorf("service: sealing blob: %w", err)
	}
	stored, err := codec.Marshal(&sealed)
	if err != nil {
		return nil, fmt.Errorf("service: encoding sealed blob: %w", err)
	}

	address, err := l.content.Put(ctx, stored)
	if err != nil {
		l.metrics.CountStoreOp("content", "put", "error")
		return nil, fmt.Errorf("service: storing blob: %w", err)
	}
	l.metrics.CountStoreOp("content", "put", "ok")

	envelope := &domain.Envelope{
		ID:             uuid.New(),
		ContentAddress: address,
		ContentHash:    contentHash,
		CreatedAt:      now,
		Scope:          opts.Scope,
		Kind:           opts.Kind,
		AccessPolicyID: opts.PolicyID,
		Lineage: domain.Lineage{
			Parents:    opts.Parents,
			Supersedes: opts.Supersedes,
			Branches:   opts.Branches,
		},
		TopicTags: opts.TopicTags,
		RiskClass: opts.RiskClass,
		TTLHint:   opts.TTLHint,
	}
	if err := envelope.Validate(); err != nil {
		return nil, err
	}
	if err := envelope.Attest(l.codec, l.attester, domain.AttesterAgent, domain.TrustSelfSigned, now); err != nil {
		return nil, err
	}

	if err := l.index.Put(ctx, envelope); err != nil {
		return nil, fmt.Errorf("service: indexing envelope: %w", err)
	}

	l.logger.Info("memory recorded",
		zap.String("envelope_id", envelope.ID.String()),
		zap.String("kind", string(envelope.Kind)),
		zap.String("scope", string(envelope.Scope)),
		zap.String("address", address),
	)
	return envelope, nil
}

// Supersede writes a child envelope that replaces parentID. The parent
// is untouched; readers following supersession see only the child.
func (l *Ledger) Supersede(ctx context.Context, parentID uuid.UUID, plaintext []byte, opts RememberOpts) (*domain.Envelope, error) {
	if _, err := l.index.Get(ctx, parentID); err != nil {
		return nil, fmt.Errorf("service: loading superseded envelope: %w", err)
	}
	opts.Parents = append(opts.Parents, parentID)
	opts.Supersedes = append(opts.Supersedes, parentID)
	return l.Remember(ctx, plaintext, opts)
}

// Tombstone revokes targetID without erasing it: a tombstone envelope
// superseding the target is written through the normal path, and every
// read path excludes both the tombstone and its target from then on.
func (l *Ledger) Tombstone(ctx context.Context, targetID uuid.UUID, reason string) (*domain.Envelope, error) {
	target, err := l.index.Get(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("service: loading tombstone target: %w", err)
	}
	if reason == "" {
		reason = "revoked"
	}
	return l.Remember(ctx, []byte(reason), RememberOpts{
		ContentType: "text/plain",
		Scope:       target.Scope,
		Kind:        domain.KindTombstone,
		RiskClass:   domain.RiskLow,
		Supersedes:  []uuid.UUID{targetID},
	})
}

// ContentDeleter is the optional destructive capability a backend may
// offer for crypto-shredding.
type ContentDeleter interface {
	Delete(ctx context.Context, address string) error
}

// Shred permanently destroys an envelope's content: the stored
// ciphertext is deleted and a tombstone is written. The envelope
// persists in the ledger, but its content is unrecoverable. The local
// symmetric key protects every blob, so deletion of the ciphertext is
// the per-record equivalent of key destruction.
func (l *Ledger) Shred(ctx context.Context, envelopeID uuid.UUID) (*domain.Envelope, error) {
	deleter, ok := l.content.(ContentDeleter)
	if !ok {
		return nil, errors.New("service: content backend does not support shredding")
	}
	target, err := l.index.Get(ctx, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("service: loading shred target: %w", err)
	}
	if err := deleter.Delete(ctx, target.ContentAddress); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("service: destroying content: %w", err)
	}
	l.logger.Warn("content shredded",
		zap.String("envelope_id", envelopeID.String()),
		zap.String("address", target.ContentAddress),
	)
	return l.Tombstone(ctx, envelopeID, "crypto-shredded")
}

// IngestReflections records the output of the external reflection
// pipeline, one envelope per record. The ledger is agnostic to how the
// records were derived.
func (l *Ledger) IngestReflections(ctx context.Context, records []domain.ReflectionRecord, scope domain.Scope, policyID *uuid.UUID) ([]domain.Envelope, error) {
	envelopes := make([]domain.Envelope, 0, len(records))
	for _, record := range records {
		kind := domain.Kind(record.Type)
		if !domain.ValidKind(record.Type) || kind == domain.KindTombstone {
			kind = domain.KindReflection
		}
		e, err := l.Remember(ctx, []byte(record.Content), RememberOpts{
			ContentType: "text/plain",
			Scope:       scope,
			Kind:        kind,
			RiskClass:   domain.RiskLow,
			TopicTags:   record.Tags,
			PolicyID:    policyID,
		})
		if err != nil {
			return envelopes, fmt.Errorf("service: ingesting reflection: %w", err)
		}
		envelopes = append(envelopes, *e)
	}
	return envelopes, nil
}

// Fetch retrieves and opens an envelope's blob, verifying the
// decrypted content against the envelope's own hash rather than
// trusting the backend.
func (l *Ledger) Fetch(ctx context.Context, e *domain.Envelope) (*domain.MemoryBlob, error) {
	stored, err := l.content.Get(ctx, e.ContentAddress)
	if err != nil {
		l.metrics.CountStoreOp("content", "get", "error")
		return nil, err
	}
	l.metrics.CountStoreOp("content", "get", "ok")

	var sealed codec.Sealed
	if err := codec.Unmarshal(stored, &sealed); err != nil {
		return nil, fmt.Errorf("service: decoding sealed blob: %w", err)
	}
	blobBytes, err := l.codec.Decrypt(sealed)
	if err != nil {
		return nil, err
	}
	blob := &domain.MemoryBlob{}
	if err := codec.Unmarshal(blobBytes, blob); err != nil {
		return nil, fmt.Errorf("service: decoding blob: %w", err)
	}
	if codec.Hash(blob.Content).Hex() != e.ContentHash {
		return nil, ErrContentMismatch
	}
	return blob, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
