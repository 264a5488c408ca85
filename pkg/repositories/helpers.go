package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/ekaya-inc/ekaya-fusion/pkg/database"
)

// normalizedSQL is the SQL twin of NormalizeText. Exact-match queries
// compare both sides through it.
const normalizedSQL = `regexp_replace(lower(btrim(%s)), '\s+', ' ', 'g')`

func normalizedColumn(col string) string {
	return fmt.Sprintf(normalizedSQL, col)
}

// NormalizeText lowercases, trims and collapses runs of whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func ownerScope(ctx context.Context) (*database.OwnerScope, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}
	return scope, nil
}

// jsonbValueMap converts a map to JSONB format for database insertion.
func jsonbValueMap(v map[string]any) any {
	if len(v) == 0 {
		return nil
	}
	return v
}

// unmarshalJSONB decodes an optional JSONB column into dst.
func unmarshalJSONB(raw []byte, dst any, column string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", column, err)
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// vectorValue returns a pgvector parameter, or nil for a NULL embedding.
func vectorValue(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}
