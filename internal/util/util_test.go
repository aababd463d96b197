package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchArgs struct {
	Query string  `json:"query" description:"Search terms"`
	Limit int     `json:"limit,omitempty"`
	Lang  *string `json:"lang"`
	skip  string
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(searchArgs{})
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")
	assert.NotContains(t, props, "skip")
	assert.Equal(t, []string{"query"}, schema["required"])
	assert.Equal(t, "integer", props["limit"].(map[string]any)["type"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"depth": map[string]any{"type": "integer"},
			"mode":  map[string]any{"type": "string", "enum": []any{"fast", "deep"}},
		},
		"required": []any{"query"},
	}

	require.NoError(t, ValidateParameters(map[string]any{"query": "go", "depth": float64(2), "extra": 1}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "query", vErr.Field)

	err = ValidateParameters(map[string]any{"query": 1}, schema)
	require.ErrorAs(t, err, &vErr)

	err = ValidateParameters(map[string]any{"query": "x", "depth": 1.5}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "depth", vErr.Field)

	err = ValidateParameters(map[string]any{"query": "x", "mode": "slow"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "mode", vErr.Field)
}

type source struct {
	URL   string `json:"url"`
	Trust string `json:"trust,omitempty" enum:"low,high"`
}

type pageMeta struct {
	Page int `json:"page,omitempty"`
}

type citeArgs struct {
	pageMeta
	Claim   string   `json:"claim"`
	Sources []source `json:"sources"`
}

func TestCreateSchema_Nested(t *testing.T) {
	schema := CreateSchema(&citeArgs{})
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "page")
	assert.ElementsMatch(t, []string{"claim", "sources"}, schema["required"])

	items := props["sources"].(map[string]any)["items"].(map[string]any)
	assert.Equal(t, "object", items["type"])
	trust := items["properties"].(map[string]any)["trust"].(map[string]any)
	assert.Equal(t, []any{"low", "high"}, trust["enum"])
}

func TestValidateParameters_Nested(t *testing.T) {
	schema := CreateSchema(citeArgs{})

	require.NoError(t, ValidateParameters(map[string]any{
		"claim":   "c",
		"sources": []any{map[string]any{"url": "https://example.org", "trust": "high"}},
	}, schema))

	err := ValidateParameters(map[string]any{
		"claim":   "c",
		"sources": []any{map[string]any{"url": "a"}, map[string]any{"trust": "low"}},
	}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "sources[1].url", vErr.Field)

	err = ValidateParameters(map[string]any{
		"claim":   "c",
		"sources": []any{map[string]any{"url": "a", "trust": "medium"}},
	}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "sources[0].trust", vErr.Field)
}

func TestValidateParameters_RequiredAsStrings(t *testing.T) {
	schema := map[string]any{"required": []string{"a"}}
	require.Error(t, ValidateParameters(map[string]any{}, schema))
	require.NoError(t, ValidateParameters(map[string]any{"a": true}, schema))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)

	out, err = RenderTemplate(`Role: {{upper .role}} tools: {{join ", " .tools}} <{{.missing}}>`, map[string]any{
		"role":  "analyst",
		"tools": []string{"search", "calc"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Role: ANALYST tools: search, calc <>", out)

	_, err = RenderTemplate("{{ .broken", nil)
	require.Error(t, err)
}
