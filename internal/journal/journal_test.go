package journal

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clawinfra/pilink/internal/gateway"
	"github.com/clawinfra/pilink/internal/types"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "sub", "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []gateway.Record{
		{MessageID: "m1", Topic: types.TopicAction, Key: "Camera", Status: "ok", At: at},
		{Topic: types.TopicTelemetry, Key: "cpu", Status: string(types.KindTransport), Error: "publish failed", At: at.Add(time.Second)},
		{MessageID: "m3", Topic: types.TopicTelemetry, Key: "light", Status: "ok", At: at.Add(2 * time.Second)},
	}
	for _, r := range recs {
		if err := j.Record(ctx, r); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := j.Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(all) != 3 || all[0].MessageID != "m3" || all[2].Key != "Camera" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if !all[2].At.Equal(at) {
		t.Errorf("expected timestamp preserved, got %v", all[2].At)
	}
	if all[1].Error != "publish failed" || all[1].Status != "transport" {
		t.Errorf("unexpected failure entry %+v", all[1])
	}

	tele, _ := j.Recent(ctx, types.TopicTelemetry, 1)
	if len(tele) != 1 || tele[0].Key != "light" {
		t.Errorf("unexpected filtered result %+v", tele)
	}

	counts, err := j.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts["ok"] != 2 || counts["transport"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestRecentEmpty(t *testing.T) {
	entries, err := openTest(t).Recent(context.Background(), "", 10)
	if err != nil || entries == nil || len(entries) != 0 {
		t.Errorf("expected empty non-nil slice, got %v %v", entries, err)
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = j.Record(ctx, gateway.Record{Topic: types.TopicAction, Key: "Camera", Status: "ok"})
	_ = j.Close()

	j, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	entries, _ := j.Recent(ctx, "", 10)
	if len(entries) != 1 || entries[0].At.IsZero() {
		t.Errorf("expected persisted entry with default time, got %+v", entries)
	}
}

func TestConcurrentRecord(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := j.Record(ctx, gateway.Record{Topic: types.TopicAction, Key: "Camera", Status: "ok"}); err != nil {
				t.Errorf("Record failed: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, _ := j.Recent(ctx, "", 100)
	if len(entries) != 20 {
		t.Errorf("expected 20 entries, got %d", len(entries))
	}
}

func TestRecordClosed(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	_ = j.Close()
	if err := j.Record(context.Background(), gateway.Record{Topic: types.TopicAction}); err == nil {
		t.Error("expected error after close")
	}
}
