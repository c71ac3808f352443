package exp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type result struct {
	Count   int  `json:"count"`
	Partial bool `json:"partial"`
}

func (r *result) MarshalJSON() ([]byte, error) {
	type Alias result
	return json.Marshal((*Alias)(r))
}

func (r *result) UnmarshalJSON(data []byte) error {
	type Alias result
	return json.Unmarshal(data, (*Alias)(r))
}

// setupTestManager creates a manager with a temporary storage directory
func setupTestManager(t *testing.T, collect CollectFunc[*result]) (*Manager[*result], string) {
	t.Helper()

	dir := t.TempDir()
	fs, err := NewFileStorage[*result](dir)
	if err != nil {
		t.Fatalf("failed to create file storage: %v", err)
	}
	return NewManager(fs, collect, zerolog.Nop()), dir
}

func blockingCollector(ctx context.Context) (*result, error) {
	<-ctx.Done()
	return &result{Count: 1, Partial: true}, ctx.Err()
}

func TestManager_RunCompletes(t *testing.T) {
	m, _ := setupTestManager(t, func(ctx context.Context) (*result, error) {
		return &result{Count: 42}, nil
	})

	if err := m.Start(context.Background(), "run-1", 0); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	m.Wait()

	got, err := m.Get("run-1")
	if err != nil {
		t.Fatalf("failed to load result: %v", err)
	}
	if got.Count != 42 {
		t.Errorf("expected count 42, got %d", got.Count)
	}

	status := m.Status()
	if status.State != Pending || status.LastID != "run-1" || status.LastError != "" {
		t.Errorf("unexpected status after completion: %+v", status)
	}
}

func TestManager_RejectsConcurrentRun(t *testing.T) {
	m, _ := setupTestManager(t, blockingCollector)

	if err := m.Start(context.Background(), "run-1", 0); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer m.Stop()

	err := m.Start(context.Background(), "run-2", 0)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	status := m.Status()
	if status.State != Running || status.ID != "run-1" {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestManager_StopSavesPartialResult(t *testing.T) {
	m, _ := setupTestManager(t, blockingCollector)

	if err := m.Start(context.Background(), "run-1", 0); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("failed to stop: %v", err)
	}

	got, err := m.Get("run-1")
	if err != nil {
		t.Fatalf("failed to load partial result: %v", err)
	}
	if !got.Partial {
		t.Error("expected partial result")
	}
	if m.Status().LastError == "" {
		t.Error("expected the cancellation to be reported")
	}

	if err := m.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning on second stop, got %v", err)
	}
}

func TestManager_TimeoutEndsRun(t *testing.T) {
	m, _ := setupTestManager(t, blockingCollector)

	if err := m.Start(context.Background(), "run-1", 20*time.Millisecond); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	m.Wait()

	if _, err := m.Get("run-1"); err != nil {
		t.Fatalf("expected result after timeout: %v", err)
	}
}

func TestManager_FailedRunIsNotSaved(t *testing.T) {
	m, dir := setupTestManager(t, func(ctx context.Context) (*result, error) {
		return nil, errors.New("boom")
	})

	if err := m.Start(context.Background(), "run-1", 0); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	m.Wait()

	if _, err := os.Stat(filepath.Join(dir, "run-1.json")); !os.IsNotExist(err) {
		t.Errorf("expected no result file, got %v", err)
	}
	if got := m.Status().LastError; got != "boom" {
		t.Errorf("expected last error boom, got %q", got)
	}
}

func TestManager_StartWithoutID(t *testing.T) {
	m, _ := setupTestManager(t, blockingCollector)

	if err := m.Start(context.Background(), "", 0); err == nil {
		t.Fatal("expected error for empty id")
	}
	if m.Status().State != Pending {
		t.Error("expected no run")
	}
}

func TestFileStorage_ListAndLoad(t *testing.T) {
	fs, err := NewFileStorage[*result](t.TempDir())
	if err != nil {
		t.Fatalf("failed to create file storage: %v", err)
	}

	for i, id := range []string{"a", "b", "c"} {
		if err := fs.Save(id, &result{Count: i}); err != nil {
			t.Fatalf("failed to save %s: %v", id, err)
		}
	}

	infos, err := fs.List()
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(infos))
	}

	got, err := fs.Load("b")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if got.Count != 1 {
		t.Errorf("expected count 1, got %d", got.Count)
	}

	if _, err := fs.Load("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := fs.Load("../etc/passwd"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}
