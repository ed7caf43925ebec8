package pagination

import (
	"sort"
	"time"
)

// KeyFunc extracts the ordering key of an item.
type KeyFunc[T any] func(item T) (time.Time, string)

type entry[T any] struct {
	item   T
	millis int64
	id     string
}

// newer reports whether a sorts before b in newest-first order.
func newer(aMillis int64, aID string, bMillis int64, bID string) bool {
	if aMillis != bMillis {
		return aMillis > bMillis
	}
	return aID > bID
}

// PaginateSorted pages over items in (sort key desc, id desc) order. The
// cursor is compared by key, so records inserted or removed between calls
// never cause a page to repeat or skip a record that existed throughout.
func PaginateSorted[T any](items []T, params Params, key KeyFunc[T]) (Page[T], error) {
	var position *Cursor
	if params.HasCursor() {
		decoded, err := DecodeCursor(params.Cursor)
		if err != nil {
			return Page[T]{}, err
		}
		position = &decoded
	}

	entries := make([]entry[T], 0, len(items))
	for _, item := range items {
		sortKey, id := key(item)
		entries = append(entries, entry[T]{item: item, millis: sortKey.UnixMilli(), id: id})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return newer(entries[i].millis, entries[i].id, entries[j].millis, entries[j].id)
	})

	limit := params.NormalizedLimit()
	if params.NormalizedDirection() == Backward {
		return backwardPage(entries, position, limit), nil
	}
	return forwardPage(entries, position, limit), nil
}

func forwardPage[T any](entries []entry[T], position *Cursor, limit int) Page[T] {
	start := 0
	if position != nil {
		millis := position.SortKey.UnixMilli()
		start = sort.Search(len(entries), func(i int) bool {
			return newer(millis, position.ID, entries[i].millis, entries[i].id)
		})
	}
	end := start + limit
	if end > len(entries) {
		end = len(entries)
	}
	window := entries[start:end]

	page := Page[T]{
		Items:   make([]T, 0, len(window)),
		HasMore: end < len(entries),
		Count:   len(window),
	}
	for _, e := range window {
		page.Items = append(page.Items, e.item)
	}
	if len(window) > 0 {
		if page.HasMore {
			last := window[len(window)-1]
			page.NextCursor = encodeEntry(last.millis, last.id)
		}
		if start > 0 {
			first := window[0]
			page.PrevCursor = encodeEntry(first.millis, first.id)
		}
	}
	return page
}

func backwardPage[T any](entries []entry[T], position *Cursor, limit int) Page[T] {
	end := len(entries)
	if position != nil {
		millis := position.SortKey.UnixMilli()
		// first index at or after the cursor position
		end = sort.Search(len(entries), func(i int) bool {
			return !newer(entries[i].millis, entries[i].id, millis, position.ID)
		})
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	window := entries[start:end]

	page := Page[T]{
		Items:   make([]T, 0, len(window)),
		HasMore: start > 0,
		Count:   len(window),
	}
	for _, e := range window {
		page.Items = append(page.Items, e.item)
	}
	if len(window) > 0 {
		if page.HasMore {
			first := window[0]
			page.PrevCursor = encodeEntry(first.millis, first.id)
		}
		if end < len(entries) {
			last := window[len(window)-1]
			page.NextCursor = encodeEntry(last.millis, last.id)
		}
	}
	return page
}

// PageFromWindow wraps items fetched from an upstream window. When the
// upstream returned a full window there may be more; the next cursor points
// at the last item so the following call resumes strictly after it.
func PageFromWindow[T any](items []T, limit int, key KeyFunc[T]) Page[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	page := Page[T]{
		Items:   append([]T(nil), items...),
		HasMore: hasMore,
		Count:   len(items),
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	if hasMore && len(items) > 0 {
		sortKey, id := key(items[len(items)-1])
		page.NextCursor = NewCursor(sortKey, id).Encode()
	}
	return page
}

// After filters items to those strictly after the cursor position in
// newest-first order. A nil cursor keeps everything.
func After[T any](items []T, position *Cursor, key KeyFunc[T]) []T {
	if position == nil {
		return items
	}
	millis := position.SortKey.UnixMilli()
	out := make([]T, 0, len(items))
	for _, item := range items {
		sortKey, id := key(item)
		if newer(millis, position.ID, sortKey.UnixMilli(), id) {
			out = append(out, item)
		}
	}
	return out
}

// SortNewestFirst orders items by (sort key desc, id desc).
func SortNewestFirst[T any](items []T, key KeyFunc[T]) {
	sort.SliceStable(items, func(i, j int) bool {
		iKey, iID := key(items[i])
		jKey, jID := key(items[j])
		return newer(iKey.UnixMilli(), iID, jKey.UnixMilli(), jID)
	})
}

func encodeEntry(millis int64, id string) string {
	return NewCursor(time.UnixMilli(millis), id).Encode()
}
