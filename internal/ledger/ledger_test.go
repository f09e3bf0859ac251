package ledger

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	now := time.Now()
	for i := 0; i < 3; i++ {
		err := store.Record(ctx, Receipt{
			Binding:        i % 2,
			Collection:     "acme/events",
			DocumentID:     "doc",
			Published:      1,
			ReceivedAt:     now,
			AcknowledgedAt: now.Add(time.Millisecond),
		})
		if err != nil {
			t.Fatalf("failed to record receipt: %v", err)
		}
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("failed to count receipts: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 receipts, got %d", n)
	}

	receipts := store.Receipts()
	if receipts[1].Binding != 1 {
		t.Errorf("expected insertion order, got binding %d at index 1", receipts[1].Binding)
	}
}

// TestPostgresStore runs against a real database when TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := Open(ctx, connString)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	before, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("failed to count receipts: %v", err)
	}

	docID := "ledger-test-" + time.Now().Format(time.RFC3339Nano)
	now := time.Now().UTC().Truncate(time.Microsecond)
	err = store.Record(ctx, Receipt{
		Binding:        1,
		Collection:     "acme/events",
		DocumentID:     docID,
		Published:      1,
		ReceivedAt:     now,
		AcknowledgedAt: now,
	})
	if err != nil {
		t.Fatalf("failed to record receipt: %v", err)
	}

	after, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("failed to count receipts: %v", err)
	}
	if after != before+1 {
		t.Errorf("expected count %d, got %d", before+1, after)
	}
}
