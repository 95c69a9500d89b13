package history

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"mindnote/api/internal/document"
)

func sampleDoc(status string) document.Workspace {
	return document.Workspace{
		Title:  "Trip",
		Status: status,
		Icon:   "data:image/png;base64,aGVsbG8=",
		Pages: []*document.Page{
			{Title: "Day 1", Elements: document.Elements{
				{Type: document.TypeText, Content: "beach"},
				{Type: document.TypeImage, Image: "aGVsbG8="},
			}},
		},
	}
}

func TestSnapshotLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first, changed, err := svc.Snapshot("ws-1", sampleDoc(document.StatusNotStarted), "Avery", "Sync Trip")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if !changed || first.Hash == "" {
		t.Fatalf("expected first snapshot to commit, got %+v changed=%v", first, changed)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "ws-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	_, changed, err = svc.Snapshot("ws-1", sampleDoc(document.StatusNotStarted), "Avery", "Sync Trip")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if changed {
		t.Fatal("expected identical snapshot to be skipped")
	}

	second, changed, err := svc.Snapshot("ws-1", sampleDoc(document.StatusCompleted), "Avery", "Complete Trip")
	if err != nil || !changed {
		t.Fatalf("Snapshot() changed=%v error = %v", changed, err)
	}

	history, err := svc.History("ws-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("unexpected history order: %+v", history)
	}
	if strings.TrimSpace(history[0].Message) != "Complete Trip" || history[0].Author != "Avery" {
		t.Fatalf("unexpected commit metadata: %+v", history[0])
	}

	old, err := svc.Content("ws-1", first.Hash)
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	if old.Status != document.StatusNotStarted || len(old.Pages) != 1 {
		t.Fatalf("unexpected snapshot content: %+v", old)
	}
	image := old.Pages[0].Elements[1].Image
	if !strings.HasPrefix(image, "sha256:") {
		t.Fatalf("expected binary payload digest, got %q", image)
	}
	if !strings.HasPrefix(old.Icon, "sha256:") {
		t.Fatalf("expected icon digest, got %q", old.Icon)
	}
}

func TestHistoryOfUnknownWorkspaceIsEmpty(t *testing.T) {
	svc := New(t.TempDir())
	history, err := svc.History("missing", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history, got %d", len(history))
	}
}

func TestRemove(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	if _, _, err := svc.Snapshot("ws-1", sampleDoc(""), "Avery", "Sync"); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if err := svc.Remove("ws-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "ws-1")); !os.IsNotExist(err) {
		t.Fatalf("expected repo to be removed, stat err = %v", err)
	}
}

func TestConcurrentSnapshotsSerialize(t *testing.T) {
	svc := New(t.TempDir())
	statuses := []string{document.StatusNotStarted, document.StatusInProgress, document.StatusCompleted}

	var wg sync.WaitGroup
	errs := make(chan error, len(statuses))
	for _, status := range statuses {
		wg.Add(1)
		go func(status string) {
			defer wg.Done()
			if _, _, err := svc.Snapshot("ws-1", sampleDoc(status), "Avery", "Sync "+status); err != nil {
				errs <- err
			}
		}(status)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Snapshot() error = %v", err)
	}

	history, err := svc.History("ws-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != len(statuses) {
		t.Fatalf("expected %d commits, got %d", len(statuses), len(history))
	}
}

func TestSnapshotLatestCommitsStateReadUnderLock(t *testing.T) {
	svc := New(t.TempDir())
	var (
		mu     sync.Mutex
		status = document.StatusNotStarted
	)
	load := func() (document.Workspace, error) {
		mu.Lock()
		defer mu.Unlock()
		return sampleDoc(status), nil
	}
	if _, changed, err := svc.SnapshotLatest("ws-1", "Avery", "Sync", load); err != nil || !changed {
		t.Fatalf("SnapshotLatest() changed=%v error = %v", changed, err)
	}

	mu.Lock()
	status = document.StatusCompleted
	mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.SnapshotLatest("ws-1", "Avery", "Sync", load); err != nil {
				t.Errorf("SnapshotLatest() error = %v", err)
			}
		}()
	}
	wg.Wait()

	history, err := svc.History("ws-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	latest, err := svc.Content("ws-1", history[0].Hash)
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	if latest.Status != document.StatusCompleted {
		t.Fatalf("expected latest commit to hold completed, got %q", latest.Status)
	}
}

func TestSnapshotLatestAfterRemoveWritesNothing(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	if _, _, err := svc.Snapshot("ws-1", sampleDoc(""), "Avery", "Sync"); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if err := svc.Remove("ws-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	errGone := errors.New("workspace deleted")
	_, changed, err := svc.SnapshotLatest("ws-1", "Avery", "Sync", func() (document.Workspace, error) {
		return document.Workspace{}, errGone
	})
	if !errors.Is(err, errGone) || changed {
		t.Fatalf("expected load error and no commit, got changed=%v error = %v", changed, err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "ws-1")); !os.IsNotExist(err) {
		t.Fatalf("expected no repo after remove, stat err = %v", err)
	}
}
