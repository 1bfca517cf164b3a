package progress_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/keshon/packstore/internal/progress"
)

func TestTrackerFinishLine(t *testing.T) {
	var buf bytes.Buffer
	tr := progress.NewTo(&buf, 3, "repacking content")
	tr.Increment()
	tr.SetCurrent(3)
	tr.Finish()

	out := buf.String()
	if !strings.Contains(out, "✓ repacking content (3 entries") {
		t.Fatalf("final line missing: %q", out)
	}
}

func TestStagesFinishEachStage(t *testing.T) {
	var buf bytes.Buffer
	s := progress.NewStagesTo(&buf)
	s.Update("scanning packs", 1, 2)
	s.Update("scanning packs", 2, 2)
	s.Update("repacking content", 1, 1)
	s.Finish()

	out := buf.String()
	if !strings.Contains(out, "✓ scanning packs (2 entries") {
		t.Fatalf("first stage not closed: %q", out)
	}
	if !strings.Contains(out, "✓ repacking content (1 entries") {
		t.Fatalf("second stage not closed: %q", out)
	}

	// Finish with no further stages is a no-op.
	s.Finish()
}
