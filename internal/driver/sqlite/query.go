package sqlite

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"ex-feedsync/pkg/feed"
)

const selectColumns = `id, pinned, ordering_key, visible, replies, likes,
	author_id, parent_id, body, media_urls, attributes, created_at`

// filterColumns maps supported filter fields to columns and value kinds.
var filterColumns = map[string]struct {
	column string
	isBool bool
}{
	feed.FieldID:       {column: "id"},
	feed.FieldPinned:   {column: "pinned", isBool: true},
	feed.FieldVisible:  {column: "visible", isBool: true},
	feed.FieldAuthorID: {column: "author_id"},
	feed.FieldParentID: {column: "parent_id"},
}

// cursorPosition is the keyset position after the last returned record.
type cursorPosition struct {
	OrderingKey int64  `json:"k"`
	ID          string `json:"id"`
}

// buildSelect renders query as a keyset-paginated statement. It selects one
// extra row so the caller can tell whether the collection is exhausted.
func buildSelect(query feed.Query) (string, []any, error) {
	if query.OrderBy.Field != "" && (query.OrderBy.Field != feed.FieldOrderingKey || !query.OrderBy.Descending) {
		return "", nil, fmt.Errorf("%w: unsupported order %s", feed.ErrInvalidQuery, query.OrderBy.Field)
	}

	var builder strings.Builder
	builder.WriteString("SELECT ")
	builder.WriteString(selectColumns)
	builder.WriteString(" FROM records WHERE collection = ?")
	args := []any{query.Collection}

	for _, filter := range query.Filters {
		mapping, ok := filterColumns[filter.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: unsupported filter field %s", feed.ErrInvalidQuery, filter.Field)
		}
		value, err := filterArg(filter, mapping.isBool)
		if err != nil {
			return "", nil, err
		}
		builder.WriteString(" AND ")
		builder.WriteString(mapping.column)
		builder.WriteString(" = ?")
		args = append(args, value)
	}

	if token := query.Cursor.Token; token != "" {
		position, err := decodeCursor(token)
		if err != nil {
			return "", nil, err
		}
		builder.WriteString(" AND (ordering_key < ? OR (ordering_key = ? AND id < ?))")
		args = append(args, position.OrderingKey, position.OrderingKey, position.ID)
	}

	builder.WriteString(" ORDER BY ordering_key DESC, id DESC LIMIT ?")
	args = append(args, query.Limit+1)

	return builder.String(), args, nil
}

func filterArg(filter feed.Filter, isBool bool) (any, error) {
	if isBool {
		value, ok := filter.Value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: filter %s wants bool, got %T", feed.ErrInvalidQuery, filter.Field, filter.Value)
		}
		return boolToInt(value), nil
	}

	value, ok := filter.Value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: filter %s wants string, got %T", feed.ErrInvalidQuery, filter.Field, filter.Value)
	}

	return value, nil
}

func encodeCursor(record feed.Record) string {
	payload, err := json.Marshal(cursorPosition{OrderingKey: record.OrderingKey, ID: record.ID})
	if err != nil {
		return ""
	}

	return base64.RawURLEncoding.EncodeToString(payload)
}

func decodeCursor(token string) (cursorPosition, error) {
	payload, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursorPosition{}, fmt.Errorf("%w: %v", feed.ErrInvalidCursor, err)
	}

	var position cursorPosition
	if err := json.Unmarshal(payload, &position); err != nil {
		return cursorPosition{}, fmt.Errorf("%w: %v", feed.ErrInvalidCursor, err)
	}
	if position.ID == "" {
		return cursorPosition{}, fmt.Errorf("%w: missing id", feed.ErrInvalidCursor)
	}

	return position, nil
}
