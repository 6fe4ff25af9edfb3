package gitmirror

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"folio/api/internal/revision"
)

func sampleHistory() []revision.Revision {
	// Newest first, the way the assembler hands it over.
	return []revision.Revision{
		{
			ID:         "rev-2",
			AuthorID:   "author-b",
			DocumentID: "doc-1",
			Kind:       revision.KindPublished,
			CreatedAt:  time.Unix(200, 0).UTC(),
			Title:      "Second draft",
			Content:    "alpha\nbeta",
		},
		{
			ID:         "rev-1",
			AuthorID:   "author-a",
			DocumentID: "doc-1",
			Kind:       revision.KindPublished,
			CreatedAt:  time.Unix(100, 0).UTC(),
			Title:      "First draft",
			Content:    "alpha",
		},
	}
}

func TestMirrorCreatesOneCommitPerRevision(t *testing.T) {
	svc := New(t.TempDir())

	created, err := svc.Mirror("doc-1", sampleHistory())
	if err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created %d commits, want 2", len(created))
	}
	// Oldest revision lands first.
	if created[0].RevisionID != "rev-1" || created[1].RevisionID != "rev-2" {
		t.Fatalf("commit order = %s, %s; want rev-1, rev-2", created[0].RevisionID, created[1].RevisionID)
	}
	if created[0].Author != "author-a" {
		t.Errorf("first commit author = %q, want author-a", created[0].Author)
	}

	log, err := svc.Log("doc-1", 10)
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("log has %d entries, want 2", len(log))
	}
	// Log is newest first.
	if log[0].RevisionID != "rev-2" || log[1].RevisionID != "rev-1" {
		t.Fatalf("log order = %s, %s; want rev-2, rev-1", log[0].RevisionID, log[1].RevisionID)
	}
	if log[0].CreatedAt.Unix() != 200 {
		t.Errorf("head commit timestamp = %d, want revision timestamp 200", log[0].CreatedAt.Unix())
	}
}

func TestMirrorIsIdempotent(t *testing.T) {
	svc := New(t.TempDir())
	history := sampleHistory()

	if _, err := svc.Mirror("doc-1", history); err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}
	created, err := svc.Mirror("doc-1", history)
	if err != nil {
		t.Fatalf("Mirror() second call error = %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("second mirror created %d commits, want 0", len(created))
	}

	log, err := svc.Log("doc-1", 0)
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("log has %d entries after re-mirror, want 2", len(log))
	}
}

func TestMirrorAppendsNewRevisions(t *testing.T) {
	svc := New(t.TempDir())
	history := sampleHistory()

	if _, err := svc.Mirror("doc-1", history); err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}

	extended := append([]revision.Revision{{
		ID:         "rev-3",
		AuthorID:   "author-a",
		DocumentID: "doc-1",
		Kind:       revision.KindPublished,
		CreatedAt:  time.Unix(300, 0).UTC(),
		Title:      "Third draft",
		Content:    "alpha\nbeta\ngamma",
	}}, history...)

	created, err := svc.Mirror("doc-1", extended)
	if err != nil {
		t.Fatalf("Mirror() with new revision error = %v", err)
	}
	if len(created) != 1 || created[0].RevisionID != "rev-3" {
		t.Fatalf("created = %+v, want single commit for rev-3", created)
	}
}

func TestMirrorWritesContentFile(t *testing.T) {
	baseDir := t.TempDir()
	svc := New(baseDir)

	if _, err := svc.Mirror("doc-1", sampleHistory()); err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(baseDir, "doc-1", contentFile))
	if err != nil {
		t.Fatalf("read mirrored content: %v", err)
	}
	if string(data) != "alpha\nbeta\n" {
		t.Errorf("mirrored content = %q, want newest revision content", string(data))
	}
}

func TestMirrorConcurrentDocuments(t *testing.T) {
	svc := New(t.TempDir())

	const docs = 8
	var wg sync.WaitGroup
	errCh := make(chan error, docs)
	for i := 0; i < docs; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			docID := fmt.Sprintf("doc-%02d", idx)
			history := []revision.Revision{{
				ID:         fmt.Sprintf("rev-%02d", idx),
				AuthorID:   "author-a",
				DocumentID: docID,
				Kind:       revision.KindPublished,
				CreatedAt:  time.Unix(int64(100+idx), 0).UTC(),
				Content:    fmt.Sprintf("content %02d", idx),
			}}
			if _, err := svc.Mirror(docID, history); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("Mirror() concurrent error = %v", err)
		}
	}

	for i := 0; i < docs; i++ {
		log, err := svc.Log(fmt.Sprintf("doc-%02d", i), 0)
		if err != nil {
			t.Fatalf("Log() error = %v", err)
		}
		if len(log) != 1 {
			t.Fatalf("doc-%02d log has %d entries, want 1", i, len(log))
		}
	}
}

func TestLogMissingDocument(t *testing.T) {
	svc := New(t.TempDir())

	_, err := svc.Log("doc-none", 0)
	if !errors.Is(err, ErrNotMirrored) {
		t.Fatalf("error = %v, want ErrNotMirrored", err)
	}
}
