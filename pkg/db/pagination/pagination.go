package pagination

import (
	"encoding/base64"
	"encoding/json"
)

// Pagination is the query-string contract for cursor-paged list endpoints.
type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=50"`
}

// Limit clamps the requested page size.
func (p Pagination) Limit(def, max int) int {
	if p.PageSize <= 0 {
		return def
	}
	if p.PageSize > max {
		return max
	}
	return p.PageSize
}

// Cursor is the keyset position of the last row on a page. CreatedAt is
// RFC3339Nano; the pair breaks ties between rows created in the same instant.
type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"nextPageToken,omitempty"`
	HasMore       bool   `json:"hasMore"`
}

func EncodeCursor(c Cursor) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// TrimPage drops the probe row fetched beyond the page size and builds the
// next-page token from the last row kept.
func TrimPage[T any](items []T, size int, cursorOf func(T) Cursor) ([]T, *PageInfo, error) {
	if len(items) <= size {
		return items, &PageInfo{}, nil
	}
	items = items[:size]
	token, err := EncodeCursor(cursorOf(items[len(items)-1]))
	if err != nil {
		return nil, nil, err
	}
	return items, &PageInfo{NextPageToken: token, HasMore: true}, nil
}
