package convlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/normanking/havenvoice/internal/chat"
	"github.com/normanking/havenvoice/internal/safety"
)

func testStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "conversations.jsonl"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return store
}

func testRecord(sessionID, turnID, userText string) Record {
	return Record{
		SessionID: sessionID,
		TurnID:    turnID,
		Timestamp: time.Now().UTC(),
		TurnType:  TurnUserMessage,
		UserText:  userText,
		Reply: &chat.Reply{
			Message:     "I hear you.",
			SafetyLevel: safety.LevelSafe,
		},
		LatencyMS: 420,
	}
}

func TestFileStore_AppendAndReadAll(t *testing.T) {
	store := testStore(t)

	if err := store.Append(testRecord("s1", "t1", "first")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(testRecord("s1", "t2", "second")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	records, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].UserText != "first" || records[1].UserText != "second" {
		t.Error("expected records in append order")
	}
	if records[0].Reply == nil || records[0].Reply.Message != "I hear you." {
		t.Error("expected reply to round-trip")
	}
}

func TestFileStore_OneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	_ = store.Append(testRecord("s1", "t1", "a"))
	_ = store.Append(testRecord("s1", "t2", "b"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 lines, got %d", len(lines))
	}
	for _, line := range lines {
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Errorf("line is not valid JSON: %v", err)
		}
	}
}

func TestFileStore_ReadMissingFileYieldsEmpty(t *testing.T) {
	store := testStore(t)

	records, err := store.ReadAll()
	if err != nil {
		t.Fatalf("expected missing store to read as empty, got %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected 0 records, got %d", len(records))
	}

	bySession, err := store.ReadBySession("nope")
	if err != nil || len(bySession) != 0 {
		t.Errorf("expected empty session read, got %v / %v", bySession, err)
	}
}

func TestFileStore_ReadBySession(t *testing.T) {
	store := testStore(t)

	_ = store.Append(testRecord("s1", "t1", "a"))
	_ = store.Append(testRecord("s2", "t2", "b"))
	_ = store.Append(testRecord("s1", "t3", "c"))

	records, err := store.ReadBySession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records for s1, got %d", len(records))
	}
	if records[0].TurnID != "t1" || records[1].TurnID != "t3" {
		t.Error("expected session records in append order")
	}
}

func TestFileStore_GroupBySession(t *testing.T) {
	store := testStore(t)

	_ = store.Append(testRecord("s1", "t1", "a"))
	_ = store.Append(testRecord("s2", "t2", "b"))
	_ = store.Append(testRecord("s2", "t3", "c"))

	groups, err := store.GroupBySession()
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(groups))
	}
	if len(groups["s2"]) != 2 {
		t.Errorf("expected 2 records for s2, got %d", len(groups["s2"]))
	}
}

func TestFileStore_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	_ = store.Append(testRecord("s1", "t1", "good"))
	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	_, _ = f.WriteString("{corrupt json\n")
	_ = f.Close()
	_ = store.Append(testRecord("s1", "t2", "also good"))

	records, err := store.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("expected corrupt line to be skipped, got %d records", len(records))
	}
}

func TestFileStore_Export(t *testing.T) {
	store := testStore(t)

	_ = store.Append(testRecord("s2", "t1", "a"))
	_ = store.Append(testRecord("s1", "t2", "b"))

	data, err := store.Export()
	if err != nil {
		t.Fatal(err)
	}

	var out []struct {
		SessionID string   `json:"sessionId"`
		Records   []Record `json:"records"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 sessions in export, got %d", len(out))
	}
	// Stable order by session id.
	if out[0].SessionID != "s1" || out[1].SessionID != "s2" {
		t.Errorf("expected sessions sorted by id, got %s, %s", out[0].SessionID, out[1].SessionID)
	}
}

func TestNopStore(t *testing.T) {
	var store Store = NopStore{}

	if err := store.Append(testRecord("s1", "t1", "a")); err != nil {
		t.Errorf("NopStore.Append must not error, got %v", err)
	}
	records, err := store.ReadAll()
	if err != nil || len(records) != 0 {
		t.Errorf("NopStore must read as empty, got %v / %v", records, err)
	}
}
