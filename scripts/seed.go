// Seed script for creating demo data in a local mnemos ledger.
// Run with: go run ./scripts/seed.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/mnemoslabs/mnemos/internal/codec"
	"github.com/mnemoslabs/mnemos/internal/domain"
	"github.com/mnemoslabs/mnemos/internal/index"
	"github.com/mnemoslabs/mnemos/internal/service"
	"github.com/mnemoslabs/mnemos/internal/store"
)

func main() {
	envFile := os.Getenv("MNEMOS_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = ".mnemos"
	}

	ctx := context.Background()

	keystore, err := codec.OpenKeyStore(filepath.Join(dataDir, "keys"))
	if err != nil {
		log.Fatalf("Failed to open keystore: %v", err)
	}
	c, err := keystore.Codec()
	if err != nil {
		log.Fatalf("Failed to load keys: %v", err)
	}

	blobs, err := store.NewLocalStore(filepath.Join(dataDir, "blobs"))
	if err != nil {
		log.Fatalf("Failed to open blob store: %v", err)
	}
	idx, err := index.NewSQLiteIndex(filepath.Join(dataDir, "index.db"))
	if err != nil {
		log.Fatalf("Failed to open index: %v", err)
	}

	identity := service.NewIdentityManager(c, filepath.Join(dataDir, "kernel.json"), nil)
	kernel, err := identity.Load()
	if err != nil {
		log.Fatalf("Failed to load kernel: %v", err)
	}
	if _, err := identity.AddValue("preserve user privacy"); err != nil && err != domain.ErrDuplicateInvariant {
		log.Fatalf("Failed to add value: %v", err)
	}
	if _, err := identity.AddBoundary("never share medical details"); err != nil && err != domain.ErrDuplicateInvariant {
		log.Fatalf("Failed to add boundary: %v", err)
	}

	ledger := service.NewLedger(c, blobs, idx, kernel.ID.String(), nil, nil)

	// A shared-read policy with redaction for non-owners.
	policy := &domain.AccessPolicy{
		ID:      uuid.New(),
		OwnerID: kernel.ID.String(),
		Permissions: domain.Permissions{
			Read: []string{domain.Wildcard},
		},
		Redaction: domain.Redaction{
			Enabled:     true,
			Replacement: "[private]",
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := idx.Upsert(ctx, policy); err != nil {
		log.Fatalf("Failed to store policy: %v", err)
	}

	seeds := []struct {
		content string
		kind    domain.Kind
		tags    []string
	}{
		{"The user prefers concise answers with code samples.", domain.KindSemantic, []string{"preferences", "style"}},
		{"On 2026-08-10 the user debugged a race in their scheduler for three hours.", domain.KindEpisodic, []string{"debugging", "scheduler"}},
		{"Long sessions go better when summaries are offered every ten turns.", domain.KindReflection, []string{"pacing"}},
	}
	for _, s := range seeds {
		e, err := ledger.Remember(ctx, []byte(s.content), service.RememberOpts{
			Kind:      s.kind,
			Scope:     domain.ScopeAgent,
			TopicTags: s.tags,
			PolicyID:  &policy.ID,
		})
		if err != nil {
			log.Fatalf("Failed to record memory: %v", err)
		}
		fmt.Printf("Recorded %s memory %s\n", s.kind, e.ID)
	}

	fmt.Println()
	fmt.Printf("Kernel:  %s\n", kernel.ID)
	fmt.Printf("Policy:  %s\n", policy.ID)
	fmt.Printf("DataDir: %s\n", dataDir)
}
