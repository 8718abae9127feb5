package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	want := Cursor{CreatedAt: time.Now().UTC().Truncate(time.Microsecond), ID: uuid.New()}
	got, err := ParseCursor(EncodeCursor(want))
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if got == nil || !got.CreatedAt.Equal(want.CreatedAt) || got.ID != want.ID {
		t.Fatalf("cursor did not round-trip: %+v", got)
	}
}

func TestParseCursorEmptyMeansFirstPage(t *testing.T) {
	t.Parallel()

	cursor, err := ParseCursor("   ")
	if err != nil || cursor != nil {
		t.Fatalf("expected nil cursor, got %+v (%v)", cursor, err)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, value := range []string{"not-base64!", "bm8tc2VwYXJhdG9y", "MjAyNHxub3QtYS11dWlk"} {
		if _, err := ParseCursor(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
}

func TestNormalizeLimitClamps(t *testing.T) {
	t.Parallel()

	if got := NormalizeLimit(0); got != DefaultLimit {
		t.Fatalf("zero limit: got %d", got)
	}
	if got := NormalizeLimit(MaxLimit + 50); got != MaxLimit {
		t.Fatalf("oversize limit: got %d", got)
	}
	if got := LimitWithBuffer(10); got != 11 {
		t.Fatalf("buffered limit: got %d", got)
	}
}
