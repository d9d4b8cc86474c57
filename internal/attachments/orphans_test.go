package attachments

import (
	"context"
	"errors"
	"strings"
	"testing"

	"odportal/internal/store/storetest"
)

type flakyStorage struct {
	*Memory
	deleteErr error
}

func (f *flakyStorage) Delete(ctx context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Memory.Delete(ctx, key)
}

func TestOrphansRetry(t *testing.T) {
	db := storetest.New(t)
	orphans := NewOrphans(db.Client)
	ctx := context.Background()
	storage := &flakyStorage{Memory: NewMemory(), deleteErr: errors.New("storage down")}
	_, _ = storage.Upload(ctx, "acct/1.pdf", strings.NewReader("x"), "")

	if err := orphans.Record(ctx, "acct/1.pdf", errors.New("delete failed")); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := orphans.Record(ctx, "acct/1.pdf", nil); err != nil {
		t.Fatalf("second record should be a no-op: %v", err)
	}

	if err := orphans.Retry(ctx, storage, "acct/1.pdf"); err == nil {
		t.Fatal("expected retry error while storage is down")
	}
	pending, err := orphans.Pending(ctx, 10, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Attempts != 1 || pending[0].LastError != "storage down" {
		t.Fatalf("unexpected ledger %+v", pending)
	}
	if capped, _ := orphans.Pending(ctx, 1, 0); len(capped) != 0 {
		t.Fatalf("orphans at the attempt cap should be skipped, got %+v", capped)
	}

	storage.deleteErr = nil
	if err := orphans.Retry(ctx, storage, "acct/1.pdf"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if storage.Has("acct/1.pdf") {
		t.Fatal("object still stored")
	}
	if left, _ := orphans.Pending(ctx, 10, 0); len(left) != 0 {
		t.Fatalf("ledger not cleared: %+v", left)
	}
}
