// Package convlog durably records conversation turns for prompt analysis.
package convlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/normanking/havenvoice/internal/chat"
)

// TurnType distinguishes how a turn was initiated.
type TurnType string

const (
	TurnUserMessage      TurnType = "user_message"
	TurnMicroActionClick TurnType = "micro_action_click"
)

// Record is the complete structured account of one conversation turn:
// what the user said, exactly what was sent to the model, exactly what
// came back (raw and parsed, or the parse error), and timing/token
// metadata. Append-only; never updated or deleted by this engine.
type Record struct {
	SessionID      string          `json:"sessionId"`
	TurnID         string          `json:"turnId"`
	Timestamp      time.Time       `json:"timestamp"`
	TurnType       TurnType        `json:"turnType"`
	UserText       string          `json:"userText"`
	Reply          *chat.Reply     `json:"reply"`
	RequestPayload json.RawMessage `json:"requestPayload,omitempty"`
	RawOutput      string          `json:"rawOutput,omitempty"`
	ParseError     string          `json:"parseError,omitempty"`
	LatencyMS      int64           `json:"latencyMs"`
	Usage          chat.Usage      `json:"usage"`
}

// Store is the capability interface over durable turn storage. Inject
// NopStore where no durable storage exists (pure client contexts).
type Store interface {
	// Append adds one record. Best-effort: callers detach it from the
	// user-facing flow and only report failures to diagnostics.
	Append(rec Record) error
	// ReadAll returns all records in append order.
	ReadAll() ([]Record, error)
	// ReadBySession returns the records for one session, in order.
	ReadBySession(sessionID string) ([]Record, error)
	// GroupBySession maps session id to its ordered records.
	GroupBySession() (map[string][]Record, error)
	// Export serializes the whole collection as one JSON document.
	Export() ([]byte, error)
}

// FileStore appends one JSON line per record to a single file. A missing
// file reads as empty, never as an error.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at path, creating the parent
// directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Append writes one record as a single JSON line.
func (s *FileStore) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

// ReadAll returns every record in append order.
func (s *FileStore) ReadAll() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A corrupt line is skipped, not fatal: the rest of the
			// log remains readable.
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("failed to scan log file: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// ReadBySession returns the records for one session in append order.
func (s *FileStore) ReadBySession(sessionID string) ([]Record, error) {
	all, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	result := []Record{}
	for _, rec := range all {
		if rec.SessionID == sessionID {
			result = append(result, rec)
		}
	}
	return result, nil
}

// GroupBySession maps each session id to its ordered records.
func (s *FileStore) GroupBySession() (map[string][]Record, error) {
	all, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]Record)
	for _, rec := range all {
		groups[rec.SessionID] = append(groups[rec.SessionID], rec)
	}
	return groups, nil
}

// Export serializes the whole collection, grouped by session with session
// ids in stable order, as one JSON document.
func (s *FileStore) Export() ([]byte, error) {
	groups, err := s.GroupBySession()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	type sessionExport struct {
		SessionID string   `json:"sessionId"`
		Records   []Record `json:"records"`
	}
	out := make([]sessionExport, 0, len(ids))
	for _, id := range ids {
		out = append(out, sessionExport{SessionID: id, Records: groups[id]})
	}
	return json.MarshalIndent(out, "", "  ")
}

// NopStore silently drops appends and reads as empty. Injected in
// environments without durable storage.
type NopStore struct{}

func (NopStore) Append(Record) error                          { return nil }
func (NopStore) ReadAll() ([]Record, error)                   { return []Record{}, nil }
func (NopStore) ReadBySession(string) ([]Record, error)       { return []Record{}, nil }
func (NopStore) GroupBySession() (map[string][]Record, error) { return map[string][]Record{}, nil }
func (NopStore) Export() ([]byte, error)                      { return []byte("[]"), nil }
