package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	err     error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type memAudit struct {
	entries []domain.AuditEntry
	logged  []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return m.entries, nil
}

func (m *memAudit) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	kept := m.entries[:0]
	var n int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveAudit(t *testing.T) {
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	audit := &memAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "write_sent", CreatedAt: base},
		{ID: 2, Event: "market_event", CreatedAt: base.Add(time.Hour)},
		{ID: 3, Event: "market_event", CreatedAt: base.Add(48 * time.Hour)},
	}}
	w := &memWriter{objects: map[string][]byte{}}
	a := NewArchiver(w, audit, discardLogger())

	cutoff := base.Add(24 * time.Hour)
	n, err := a.ArchiveAudit(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveAudit: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d, want 2", n)
	}

	body, ok := w.objects[archivePath("audit", cutoff)]
	if !ok {
		t.Fatalf("no object at %s; have %v", archivePath("audit", cutoff), w.objects)
	}
	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		lines++
	}
	if lines != 2 {
		t.Errorf("jsonl lines = %d, want 2", lines)
	}

	if len(audit.entries) != 1 || audit.entries[0].ID != 3 {
		t.Errorf("remaining entries = %+v, want only id 3", audit.entries)
	}
	if len(audit.logged) != 1 || audit.logged[0] != "archive.audit" {
		t.Errorf("audit events = %v", audit.logged)
	}
}

func TestArchiveAudit_UploadFailureKeepsRows(t *testing.T) {
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	audit := &memAudit{entries: []domain.AuditEntry{{ID: 1, CreatedAt: base}}}
	w := &memWriter{objects: map[string][]byte{}, err: errors.New("bucket gone")}
	a := NewArchiver(w, audit, discardLogger())

	if _, err := a.ArchiveAudit(context.Background(), base.Add(time.Hour)); err == nil {
		t.Fatal("ArchiveAudit returned nil error on upload failure")
	}
	if len(audit.entries) != 1 {
		t.Fatal("rows deleted although upload failed")
	}
}

func TestArchiveAudit_Empty(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	a := NewArchiver(w, &memAudit{}, discardLogger())
	n, err := a.ArchiveAudit(context.Background(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("ArchiveAudit = %d, %v; want 0, nil", n, err)
	}
	if len(w.objects) != 0 {
		t.Error("uploaded an empty archive")
	}
}

func TestArchivePath(t *testing.T) {
	at := time.Date(2026, 10, 18, 3, 0, 0, 0, time.FixedZone("x", 3600))
	got := archivePath("audit", at)
	if got != "archive/audit/2026-10/20261018T020000Z.jsonl" {
		t.Errorf("archivePath = %q", got)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://s3.example", false, "https://s3.example"},
		{"minio:9000", false, "http://minio:9000"},
		{"r2.example", true, "https://r2.example"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}
