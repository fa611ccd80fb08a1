package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPhotoQueue(t *testing.T) {
	db := openTestDB(t)
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	b, err := db.AddPhoto("/p/b.jpg", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}
	a, err := db.AddPhoto("/p/a.jpg", t0)
	if err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}
	again, err := db.AddPhoto("/p/a.jpg", t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("AddPhoto dup: %v", err)
	}
	if again.ID != a.ID {
		t.Fatalf("dup id=%s want %s", again.ID, a.ID)
	}

	pending, err := db.PendingPhotos(10)
	if err != nil {
		t.Fatalf("PendingPhotos: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != a.ID || pending[1].ID != b.ID {
		t.Fatalf("pending=%+v", pending)
	}
	if !pending[0].TakenAt.Equal(t0) {
		t.Fatalf("taken_at=%v want %v", pending[0].TakenAt, t0)
	}

	if err := db.RecordUploadFailure(a.ID, "http 500"); err != nil {
		t.Fatalf("RecordUploadFailure: %v", err)
	}
	if err := db.MarkUploaded(b.ID, t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	pending, _ = db.PendingPhotos(10)
	if len(pending) != 1 || pending[0].Attempts != 1 || pending[0].LastError != "http 500" {
		t.Fatalf("pending=%+v", pending)
	}
	n, err := db.CountPending()
	if err != nil || n != 1 {
		t.Fatalf("CountPending=%d err=%v want 1", n, err)
	}

	if err := db.MarkUploaded("missing", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestImportDir(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	for _, name := range []string{"img_1.jpg", "img_2.JPEG", "notes.txt", "img_3.jpg.part"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.AddPhoto(filepath.Join(dir, "img_1.jpg"), time.Now()); err != nil {
		t.Fatal(err)
	}
	added, err := db.ImportDir(dir)
	if err != nil {
		t.Fatalf("ImportDir: %v", err)
	}
	if added != 1 {
		t.Fatalf("added=%d want 1", added)
	}
	n, _ := db.CountPending()
	if n != 2 {
		t.Fatalf("pending=%d want 2", n)
	}
}

func TestPendingPhotosOrderBySubsecondTime(t *testing.T) {
	db := openTestDB(t)
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	// RFC3339Nano would store "...00.51Z" before "...00.5Z" as text.
	late, err := db.AddPhoto("/p/late.jpg", t0.Add(510*time.Millisecond))
	if err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}
	early, err := db.AddPhoto("/p/early.jpg", t0.Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}
	whole, err := db.AddPhoto("/p/whole.jpg", t0.Add(time.Second))
	if err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}

	pending, err := db.PendingPhotos(10)
	if err != nil {
		t.Fatalf("PendingPhotos: %v", err)
	}
	if len(pending) != 3 || pending[0].ID != early.ID || pending[1].ID != late.ID || pending[2].ID != whole.ID {
		t.Fatalf("pending=%+v", pending)
	}
	if !pending[1].TakenAt.Equal(t0.Add(510 * time.Millisecond)) {
		t.Fatalf("taken_at=%v", pending[1].TakenAt)
	}
}

func TestDispatchJournal(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, kind := range []string{"sent", "arrived", "sent"} {
		if _, err := db.RecordDispatchEvent(DispatchEvent{PlanID: "p1", Seq: i / 2, Kind: kind, X: 1, Y: 2, At: at}); err != nil {
			t.Fatalf("RecordDispatchEvent: %v", err)
		}
	}
	evs, err := db.RecentDispatchEvents(2)
	if err != nil {
		t.Fatalf("RecentDispatchEvents: %v", err)
	}
	if len(evs) != 2 || evs[0].Kind != "sent" || evs[1].Kind != "arrived" {
		t.Fatalf("events=%+v", evs)
	}
	if !evs[0].At.Equal(at) || evs[0].PlanID != "p1" {
		t.Fatalf("event=%+v", evs[0])
	}
}

func TestOutbox(t *testing.T) {
	db := openTestDB(t)
	id1, err := db.EnqueueOutbox("t", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("EnqueueOutbox: %v", err)
	}
	if _, err := db.EnqueueOutbox("t", []byte(`{"a":2}`)); err != nil {
		t.Fatal(err)
	}
	if err := db.IncrementOutboxRetries(id1); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListPendingOutbox(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Retries != 1 || string(msgs[0].Payload) != `{"a":1}` {
		t.Fatalf("msgs=%+v", msgs)
	}
	if err := db.AckOutbox(id1); err != nil {
		t.Fatal(err)
	}
	msgs, _ = db.ListPendingOutbox(10)
	if len(msgs) != 1 {
		t.Fatalf("pending=%d want 1", len(msgs))
	}
	pruned, err := db.PruneOutbox(time.Now().Add(time.Hour))
	if err != nil || pruned != 1 {
		t.Fatalf("pruned=%d err=%v want 1", pruned, err)
	}
}
