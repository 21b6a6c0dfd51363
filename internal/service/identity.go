package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemoslabs/mnemos/internal/codec"
	"github.com/mnemoslabs/mnemos/internal/domain"
)

// ExportVersion tags the identity export file format.
const ExportVersion = "1.0"

// CartoucheDialect identifies the glyph derivation scheme in use.
const CartoucheDialect = "mnemos-glyph-v1"

// glyphAlphabet is the symbol set cartouche glyphs are drawn from.
var glyphAlphabet = []rune("◆◇○●△▲□■☾☉♁✶✷⌘⟁⟐")

// ErrKernelUnverified means a kernel file failed signature
// verification. Every persisted kernel is signed on write, so an
// unverifiable one has been modified outside the manager and must not
// be loaded.
var ErrKernelUnverified = errors.New("service: kernel signature does not verify")

// IdentityManager owns the kernel file: creation with defaults on
// first use, explicit mutation, epoch transitions, and the encrypted
// export/import format. All writes re-sign and persist atomically.
type IdentityManager struct {
	codec  *codec.Codec
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewIdentityManager(c *codec.Codec, path string, logger *zap.Logger) *IdentityManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityManager{codec: c, path: path, logger: logger}
}

// Load reads the kernel, creating a default one on first use. Failure
// to load an existing kernel is fatal to the session.
func (m *IdentityManager) Load() (*domain.IdentityKernel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

func (m *IdentityManager) loadLocked() (*domain.IdentityKernel, error) {
	raw, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		kernel := m.defaultKernel()
		if err := m.saveLocked(kernel); err != nil {
			return nil, err
		}
		m.logger.Info("identity kernel created",
			zap.String("kernel_id", kernel.ID.String()))
		return kernel, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service: reading kernel: %w", err)
	}
	kernel := &domain.IdentityKernel{}
	if err := json.Unmarshal(raw, kernel); err != nil {
		return nil, fmt.Errorf("service: decoding kernel: %w", err)
	}
	if err := kernel.Validate(); err != nil {
		return nil, err
	}
	// Tampered invariants would feed scoring and the attestation trust
	// set, so an unverifiable kernel fails the load outright.
	if !kernel.Verified() {
		return nil, ErrKernelUnverified
	}
	return kernel, nil
}

func (m *IdentityManager) defaultKernel() *domain.IdentityKernel {
	now := time.Now().UTC()
	kernel := &domain.IdentityKernel{
		ID: uuid.New(),
		Invariants: domain.Invariants{
			Values:      []string{},
			Boundaries:  []string{},
			Preferences: map[string]string{},
		},
		EvolutionRules: domain.EvolutionRules{
			ConflictResolution: domain.ResolveRequireConfirmation,
		},
		EpochState: domain.EpochState{
			Epoch:     epochID(now),
			StartedAt: now,
		},
		ThreatPosture: domain.PostureStandard,
	}
	kernel.Cartouche = m.deriveCartouche(kernel)
	return kernel
}

// saveLocked signs and persists the kernel atomically.
func (m *IdentityManager) saveLocked(kernel *domain.IdentityKernel) error {
	if err := kernel.Validate(); err != nil {
		return err
	}
	if err := kernel.Sign(m.codec); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(kernel, "", "  ")
	if err != nil {
		return fmt.Errorf("service: encoding kernel: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("service: creating kernel directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".kernel-*")
	if err != nil {
		return fmt.Errorf("service: creating temp kernel file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("service: restricting kernel permissions: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("service: writing kernel: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("service: closing kernel file: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		return fmt.Errorf("service: persisting kernel: %w", err)
	}
	return nil
}

// AddValue appends a value invariant and persists. Duplicates are
// rejected with domain.ErrDuplicateInvariant.
func (m *IdentityManager) AddValue(value string) (*domain.IdentityKernel, error) {
	return m.mutate(func(k *domain.IdentityKernel) error { return k.AddValue(value) })
}

// AddBoundary appends a boundary invariant and persists.
func (m *IdentityManager) AddBoundary(boundary string) (*domain.IdentityKernel, error) {
	return m.mutate(func(k *domain.IdentityKernel) error { return k.AddBoundary(boundary) })
}

// SetPreference records a stable preference pair and persists.
func (m *IdentityManager) SetPreference(key, value string) (*domain.IdentityKernel, error) {
	return m.mutate(func(k *domain.IdentityKernel) error {
		if k.Invariants.Preferences == nil {
			k.Invariants.Preferences = map[string]string{}
		}
		k.Invariants.Preferences[key] = value
		return nil
	})
}

// MarkCompiled stamps the kernel's last-compiled time.
func (m *IdentityManager) MarkCompiled(at time.Time) (*domain.IdentityKernel, error) {
	return m.mutate(func(k *domain.IdentityKernel) error {
		at = at.UTC()
		k.EpochState.LastCompiledAt = &at
		return nil
	})
}

func (m *IdentityManager) mutate(apply func(*domain.IdentityKernel) error) (*domain.IdentityKernel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kernel, err := m.loadLocked()
	if err != nil {
		return nil, err
	}
	if err := apply(kernel); err != nil {
		return nil, err
	}
	// Invariant edits refresh the cartouche; its hash covers values,
	// boundaries, and epoch only, so minor edits elsewhere keep it
	// stable.
	kernel.Cartouche = m.deriveCartouche(kernel)
	if err := m.saveLocked(kernel); err != nil {
		return nil, err
	}
	return kernel, nil
}

// TransitionEpoch archives the current kernel id into history, mints a
// new id and epoch, and re-derives the cartouche. The prior kernel is
// superseded, never deleted.
func (m *IdentityManager) TransitionEpoch(trigger string) (*domain.IdentityKernel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kernel, err := m.loadLocked()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	kernel.Pointers.KernelHistory = append(kernel.Pointers.KernelHistory, kernel.ID)
	kernel.ID = uuid.New()
	kernel.EpochState = domain.EpochState{
		Epoch:     epochID(now),
		StartedAt: now,
		Trigger:   trigger,
	}
	kernel.Cartouche = m.deriveCartouche(kernel)
	if err := m.saveLocked(kernel); err != nil {
		return nil, err
	}
	m.logger.Info("epoch transition",
		zap.String("kernel_id", kernel.ID.String()),
		zap.String("epoch", kernel.EpochState.Epoch),
		zap.String("trigger", trigger),
	)
	return kernel, nil
}

// deriveCartouche computes the symbolic seal over the kernel's values,
// boundaries, and epoch. Epoch inclusion guarantees the seal changes on
// every transition.
func (m *IdentityManager) deriveCartouche(kernel *domain.IdentityKernel) *domain.Cartouche {
	var b strings.Builder
	for _, v := range kernel.Invariants.Values {
		b.WriteString(v)
		b.WriteByte('\n')
	}
	for _, v := range kernel.Invariants.Boundaries {
		b.WriteString(v)
		b.WriteByte('\n')
	}
	b.WriteString(kernel.EpochState.Epoch)

	digest := codec.Hash([]byte(b.String()))
	glyph := make([]rune, 8)
	for i := range glyph {
		glyph[i] = glyphAlphabet[int(digest[i])%len(glyphAlphabet)]
	}
	return &domain.Cartouche{
		Dialect:   CartoucheDialect,
		Version:   1,
		Glyph:     string(glyph),
		Hash:      digest.Hex(),
		Signature: m.codec.Sign(digest[:]),
	}
}

// exportFile is the identity export/import envelope. The payload is
// the full kernel sealed under the local symmetric key, so importing
// elsewhere requires key custody, not just a file copy.
type exportFile struct {
	MLPVersion string       `json:"mlp_version"`
	Encrypted  bool         `json:"encrypted"`
	Data       codec.Sealed `json:"data"`
}

// Export serializes the current kernel into the encrypted portable
// format.
func (m *IdentityManager) Export() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kernel, err := m.loadLocked()
	if err != nil {
		return nil, err
	}
	payload, err := codec.Marshal(kernel)
	if err != nil {
		return nil, fmt.Errorf("service: encoding kernel for export: %w", err)
	}
	sealed, err := m.codec.Encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("service: sealing kernel export: %w", err)
	}
	return json.MarshalIndent(exportFile{
		MLPVersion: ExportVersion,
		Encrypted:  true,
		Data:       sealed,
	}, "", "  ")
}

// Import decrypts an export file and installs the kernel, replacing
// the local one. Fails without the matching symmetric key.
func (m *IdentityManager) Import(raw []byte) (*domain.IdentityKernel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var file exportFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("service: decoding export file: %w", err)
	}
	if file.MLPVersion != ExportVersion {
		return nil, fmt.Errorf("service: unsupported export version %q", file.MLPVersion)
	}
	if !file.Encrypted {
		return nil, errors.New("service: export file is not encrypted")
	}
	payload, err := m.codec.Decrypt(file.Data)
	if err != nil {
		return nil, err
	}
	kernel := &domain.IdentityKernel{}
	if err := codec.Unmarshal(payload, kernel); err != nil {
		return nil, fmt.Errorf("service: decoding imported kernel: %w", err)
	}
	if err := kernel.Validate(); err != nil {
		return nil, err
	}
	if err := m.saveLocked(kernel); err != nil {
		return nil, err
	}
	m.logger.Info("identity kernel imported",
		zap.String("kernel_id", kernel.ID.String()))
	return kernel, nil
}

func epochID(at time.Time) string {
	return "epoch-" + at.Format("20060102T150405Z")
}
