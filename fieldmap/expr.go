package fieldmap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

// ContextAlias is the key under which the raw item is exposed to
// expressions, both as .mapping and as $mapping.
const ContextAlias = "mapping"

// EvalTimeout bounds a single expression evaluation.
var EvalTimeout = 50 * time.Millisecond

// Expr is a compiled jq expression. Expressions only see the mapping
// context: environment access is disabled.
type Expr struct {
	src  string
	code *gojq.Code
}

// Compile parses and compiles src.
func Compile(src string) (*Expr, error) {
	query, err := gojq.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression %q: %w", src, err)
	}
	code, err := gojq.Compile(query,
		gojq.WithVariables([]string{"$" + ContextAlias}),
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq expression %q: %w", src, err)
	}
	return &Expr{src: src, code: code}, nil
}

// Source returns the expression text.
func (e *Expr) Source() string {
	return e.src
}

// Eval runs the expression against item and returns its first output. A nil
// value means the expression produced nothing or null.
func (e *Expr) Eval(item Item) (any, error) {
	input, err := normalize(item)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), EvalTimeout)
	defer cancel()

	iter := e.code.RunWithContext(ctx, map[string]any{ContextAlias: input}, input)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, ok := v.(error); ok {
		return nil, err
	}
	return v, nil
}

// normalize converts item into the plain JSON value tree gojq accepts.
func normalize(item Item) (any, error) {
	if item == nil {
		return nil, nil
	}
	if plain(item) {
		return item, nil
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize transcript item: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize transcript item: %w", err)
	}
	return out, nil
}

func plain(v any) bool {
	switch v := v.(type) {
	case nil, bool, string, float64, int:
		return true
	case map[string]any:
		for _, e := range v {
			if !plain(e) {
				return false
			}
		}
		return true
	case []any:
		for _, e := range v {
			if !plain(e) {
				return false
			}
		}
		return true
	}
	return false
}
