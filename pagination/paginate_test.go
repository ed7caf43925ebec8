package pagination

import (
	"fmt"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type record struct {
	ID    string
	Start time.Time
}

func recordKey(r record) (time.Time, string) {
	return r.Start, r.ID
}

func TestCursorRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		id   string
	}{
		{name: "simple", at: time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC), id: "act_1"},
		{name: "id with colons", at: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), id: "terra:garmin:42"},
		{name: "millisecond precision", at: time.UnixMilli(1714548600123).UTC(), id: "x"},
		{name: "before epoch", at: time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC), id: "old"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := NewCursor(tc.at, tc.id).Encode()
			decoded, err := DecodeCursor(token)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !decoded.SortKey.Equal(time.UnixMilli(tc.at.UnixMilli())) {
				t.Fatalf("expected sort key %s, got %s", tc.at, decoded.SortKey)
			}
			if decoded.ID != tc.id {
				t.Fatalf("expected id %q, got %q", tc.id, decoded.ID)
			}
		})
	}
}

func TestCursorTruncatesToMilliseconds(t *testing.T) {
	at := time.Date(2024, 5, 1, 7, 30, 0, 123_456_789, time.UTC)
	cursor := NewCursor(at, "act_1")
	if want := time.Date(2024, 5, 1, 7, 30, 0, 123_000_000, time.UTC); !cursor.SortKey.Equal(want) {
		t.Fatalf("expected millisecond sort key %s, got %s", want, cursor.SortKey)
	}
	decoded, err := DecodeCursor(cursor.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.SortKey.Equal(cursor.SortKey) || decoded.SortKey.Equal(at) {
		t.Fatalf("expected decode to return the truncated key, got %s", decoded.SortKey)
	}

	// records a few microseconds apart share a millisecond and order by id
	items := []record{
		{ID: "b", Start: at.Add(2 * time.Microsecond)},
		{ID: "a", Start: at.Add(500 * time.Microsecond)},
		{ID: "c", Start: at},
	}
	first, err := PaginateSorted(items, Params{Limit: 1}, recordKey)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	second, err := PaginateSorted(items, Params{Cursor: first.NextCursor, Limit: 2}, recordKey)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	got := []string{first.Items[0].ID, second.Items[0].ID, second.Items[1].ID}
	if fmt.Sprint(got) != "[c b a]" {
		t.Fatalf("expected id order within one millisecond, got %v", got)
	}
}

func TestDecodeCursorRejectsMalformedTokens(t *testing.T) {
	for _, token := range []string{"", "!!!", "bm9zZXBhcmF0b3I", "YWJjOmlk"} {
		_, err := DecodeCursor(token)
		if err == nil {
			t.Fatalf("expected error for token %q", token)
		}
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			t.Fatalf("expected go-errors error for %q, got %T", token, err)
		}
		if richErr.Category != goerrors.CategoryBadInput || richErr.TextCode != ErrorInvalidCursor {
			t.Fatalf("unexpected error envelope for %q: %+v", token, richErr)
		}
	}
}

func TestPaginateSortedIsExhaustiveAndNonOverlapping(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	items := make([]record, 0, 47)
	for i := 0; i < 47; i++ {
		// every third record shares a timestamp with its neighbour
		items = append(items, record{
			ID:    fmt.Sprintf("r%03d", i),
			Start: base.Add(time.Duration(i/3) * time.Hour),
		})
	}

	for _, limit := range []int{1, 5, 10, 46, 47, 100} {
		t.Run(fmt.Sprintf("limit_%d", limit), func(t *testing.T) {
			seen := map[string]bool{}
			cursor := ""
			var previous *record
			for pages := 0; ; pages++ {
				if pages > len(items)+1 {
					t.Fatalf("paging did not terminate")
				}
				page, err := PaginateSorted(items, Params{Cursor: cursor, Limit: limit}, recordKey)
				if err != nil {
					t.Fatalf("page %d: %v", pages, err)
				}
				if page.Count != len(page.Items) {
					t.Fatalf("count %d does not match items %d", page.Count, len(page.Items))
				}
				for i := range page.Items {
					item := page.Items[i]
					if seen[item.ID] {
						t.Fatalf("item %s returned twice", item.ID)
					}
					seen[item.ID] = true
					if previous != nil && !newer(previous.Start.UnixMilli(), previous.ID, item.Start.UnixMilli(), item.ID) {
						t.Fatalf("order violated between %s and %s", previous.ID, item.ID)
					}
					previous = &page.Items[i]
				}
				if !page.HasMore {
					if page.NextCursor != "" {
						t.Fatalf("expected empty next cursor on the last page")
					}
					break
				}
				cursor = page.NextCursor
			}
			if len(seen) != len(items) {
				t.Fatalf("expected %d items, saw %d", len(items), len(seen))
			}
		})
	}
}

func TestPaginateSortedStableUnderConcurrentInsert(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	items := []record{
		{ID: "a", Start: base.Add(5 * time.Hour)},
		{ID: "b", Start: base.Add(4 * time.Hour)},
		{ID: "c", Start: base.Add(3 * time.Hour)},
		{ID: "d", Start: base.Add(2 * time.Hour)},
	}
	first, err := PaginateSorted(items, Params{Limit: 2}, recordKey)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}

	// a newer record arrives between page requests
	items = append(items, record{ID: "z", Start: base.Add(10 * time.Hour)})

	second, err := PaginateSorted(items, Params{Cursor: first.NextCursor, Limit: 2}, recordKey)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Items) != 2 || second.Items[0].ID != "c" || second.Items[1].ID != "d" {
		t.Fatalf("expected [c d] after insert, got %+v", second.Items)
	}
	if second.HasMore {
		t.Fatalf("expected last page")
	}
}

func TestPaginateSortedBackward(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	items := make([]record, 0, 6)
	for i := 0; i < 6; i++ {
		items = append(items, record{ID: fmt.Sprintf("r%d", i), Start: base.Add(time.Duration(i) * time.Hour)})
	}

	first, _ := PaginateSorted(items, Params{Limit: 2}, recordKey)
	second, _ := PaginateSorted(items, Params{Cursor: first.NextCursor, Limit: 2}, recordKey)
	if second.PrevCursor == "" {
		t.Fatalf("expected previous cursor on the second page")
	}

	back, err := PaginateSorted(items, Params{Cursor: second.PrevCursor, Limit: 2, Direction: Backward}, recordKey)
	if err != nil {
		t.Fatalf("backward page: %v", err)
	}
	if len(back.Items) != 2 || back.Items[0].ID != first.Items[0].ID || back.Items[1].ID != first.Items[1].ID {
		t.Fatalf("expected backward page to equal the first page, got %+v", back.Items)
	}
	if back.HasMore {
		t.Fatalf("expected no newer records before the first page")
	}
}

func TestParamsNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -3: DefaultLimit, 1: 1, 100: 100, 101: MaxLimit, 5000: MaxLimit}
	for in, want := range cases {
		if got := (Params{Limit: in}).NormalizedLimit(); got != want {
			t.Fatalf("limit %d: expected %d, got %d", in, want, got)
		}
	}
}

func TestPageFromWindowDetectsMore(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	items := []record{
		{ID: "a", Start: base.Add(3 * time.Hour)},
		{ID: "b", Start: base.Add(2 * time.Hour)},
		{ID: "c", Start: base.Add(time.Hour)},
	}
	page := PageFromWindow(items, 2, recordKey)
	if !page.HasMore || page.Count != 2 {
		t.Fatalf("expected two items with more available, got %+v", page)
	}
	cursor, err := DecodeCursor(page.NextCursor)
	if err != nil {
		t.Fatalf("decode next cursor: %v", err)
	}
	if cursor.ID != "b" {
		t.Fatalf("expected cursor at b, got %s", cursor.ID)
	}
	rest := After(items, &cursor, recordKey)
	if len(rest) != 1 || rest[0].ID != "c" {
		t.Fatalf("expected [c] after cursor, got %+v", rest)
	}

	last := PageFromWindow(items[:1], 2, recordKey)
	if last.HasMore || last.NextCursor != "" {
		t.Fatalf("expected final window, got %+v", last)
	}
}
