package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/researchmesh/core"
)

// -------------------- FunctionTool Tests --------------------

func searchParams() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer"},
		},
		"required": []any{"query"},
	}
}

func TestFunctionTool_Success(t *testing.T) {
	ft := NewFunctionTool("search", "search docs", searchParams(), func(ctx context.Context, args map[string]any) (any, error) {
		return "hits for " + args["query"].(string), nil
	})

	out, err := ft.Call(context.Background(), map[string]any{"query": "go"})
	require.NoError(t, err)
	assert.Equal(t, "hits for go", out)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	called := false
	ft := NewFunctionTool("search", "search docs", searchParams(), func(ctx context.Context, args map[string]any) (any, error) {
		called = true
		return nil, nil
	})

	_, err := ft.Call(context.Background(), map[string]any{"limit": 3})
	require.Error(t, err)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.False(t, called)
}

func TestFunctionTool_ExecutionAndTimeoutCodes(t *testing.T) {
	failing := NewFunctionTool("fail", "", nil, func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := failing.Call(context.Background(), nil)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)

	slow := NewFunctionTool("slow", "", nil, func(ctx context.Context, args map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Call(ctx, nil)
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeTimeout, toolErr.Code)
}

func TestFunctionTool_CustomToolErrorPreserved(t *testing.T) {
	ft := NewFunctionTool("quota", "", nil, func(ctx context.Context, args map[string]any) (any, error) {
		return nil, NewToolError("quota", "rate limited", "RATE_LIMIT")
	})
	_, err := ft.Call(context.Background(), nil)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "RATE_LIMIT", toolErr.Code)
}

func TestNewFunctionToolFromStruct(t *testing.T) {
	type args struct {
		Query string `json:"query" description:"Search terms"`
		Limit int    `json:"limit,omitempty"`
	}
	ft := NewFunctionToolFromStruct("search", "", args{}, func(ctx context.Context, a map[string]any) (any, error) {
		return a["query"], nil
	})
	props, ok := ft.Parameters()["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")
}

// -------------------- Registry Tests --------------------

func echoTool(name string) Tool {
	return NewFunctionTool(name, "echo "+name, nil, func(ctx context.Context, args map[string]any) (any, error) {
		return args, nil
	})
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry([]Tool{echoTool("b"), echoTool("a")})

	assert.True(t, r.Has("a"))
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, []string{"c"}, r.Missing("a", "c", "b"))

	err := r.Register(echoTool("a"))
	require.ErrorIs(t, err, ErrDuplicateTool)

	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.False(t, r.Has("a"))
}

func TestRegistry_NewRegistryPanicsOnDuplicates(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistry([]Tool{echoTool("x"), echoTool("x")})
	})
}

func TestRegistry_DefinitionsKeepOrder(t *testing.T) {
	r := NewRegistry([]Tool{echoTool("a"), echoTool("b")})

	defs := r.Definitions("b", "missing", "a")
	require.Len(t, defs, 2)
	assert.Equal(t, "b", defs[0].Function.Name)
	assert.Equal(t, "a", defs[1].Function.Name)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "echo b", defs[0].Function.Description)
}

func TestRegistry_ExecuteNotFound(t *testing.T) {
	r := NewRegistry(nil)

	res := r.Execute(context.Background(), core.ToolCall{ID: "c1", Name: "search"})
	assert.False(t, res.Success)
	assert.Equal(t, CodeNotFound, res.Code)
	assert.Equal(t, "c1", res.CallID)
	assert.Contains(t, res.Error, `"search"`)
}

func TestRegistry_ExecuteRecoversPanic(t *testing.T) {
	r := NewRegistry([]Tool{NewFunctionTool("explode", "", nil, func(ctx context.Context, args map[string]any) (any, error) {
		panic("kaboom")
	})})

	var res core.ToolResult
	require.NotPanics(t, func() {
		res = r.Execute(context.Background(), core.ToolCall{ID: "1", Name: "explode"})
	})
	assert.False(t, res.Success)
	assert.Equal(t, CodePanic, res.Code)
	assert.Contains(t, res.Error, "kaboom")
}

func TestRegistry_ExecuteMapsErrors(t *testing.T) {
	r := NewRegistry([]Tool{NewFunctionTool("search", "", searchParams(), func(ctx context.Context, args map[string]any) (any, error) {
		return fmt.Sprintf("result:%v", args["query"]), nil
	})})

	res := r.Execute(context.Background(), core.ToolCall{ID: "1", Name: "search", Arguments: map[string]any{"query": "go"}})
	assert.True(t, res.Success)
	assert.Equal(t, "result:go", res.Data)

	res = r.Execute(context.Background(), core.ToolCall{ID: "2", Name: "search"})
	assert.False(t, res.Success)
	assert.Equal(t, CodeValidation, res.Code)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry([]Tool{echoTool("shared")})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			res := r.Execute(context.Background(), core.ToolCall{ID: fmt.Sprint(i), Name: "shared", Arguments: map[string]any{"i": i}})
			assert.True(t, res.Success)
		}(i)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("t%d", i)
			assert.NoError(t, r.Register(echoTool(name)))
			assert.True(t, r.Has(name))
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.Names(), 51)
}
