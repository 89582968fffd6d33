package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okTool(name string) *mockTool {
	return newMockTool(name, func(context.Context, map[string]any) (ToolResult, error) {
		return NewSuccessResult(name), nil
	})
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(okTool("b")))
	require.NoError(t, r.Register(okTool("a")))

	assert.ErrorIs(t, r.Register(okTool("a")), ErrToolAlreadyExists)
	assert.ErrorIs(t, r.Register(nil), ErrInvalidArgs)
	assert.ErrorIs(t, r.Register(okTool("")), ErrInvalidArgs)

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Name())
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, 2, r.Len())

	require.NoError(t, r.Unregister("a"))
	assert.ErrorIs(t, r.Unregister("a"), ErrToolNotFound)
}

func TestRegistry_SubsetAndWithout(t *testing.T) {
	r := NewRegistry(okTool("read_file"), okTool("write_file"), okTool("shell"))

	assert.Equal(t, []string{"read_file", "shell"}, r.Subset([]string{"shell", "read_file", "nope"}).Names())
	assert.Equal(t, 3, r.Subset(nil).Len())
	assert.Equal(t, []string{"read_file", "write_file"}, r.Without("shell").Names())
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_PutReplaces(t *testing.T) {
	r := NewRegistry(okTool("x"))
	replacement := okTool("x")
	r.Put(replacement)

	got, _ := r.Get("x")
	assert.Same(t, replacement, got)
}

func TestRegistry_ToProviderTools(t *testing.T) {
	tool := okTool("grep")
	tool.ToolParameters = ObjectSchema([]Param{{Name: "pattern", Type: TypeString, Required: true}})
	r := NewRegistry(tool)

	defs, err := r.ToProviderTools()

	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "grep", defs[0].Function.Name)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(defs[0].Function.Parameters, &schema))
	assert.Equal(t, []any{"pattern"}, schema["required"])
}

func TestParamSchema(t *testing.T) {
	p := Param{
		Name: "opts",
		Type: TypeObject,
		Properties: []Param{
			{Name: "mode", Type: TypeEnum, Enum: []string{"fast", "slow"}, Required: true},
			{Name: "tags", Type: TypeArray, Items: &Param{Type: TypeString}},
			{Name: "limit", Type: TypeAnyOf, AnyOf: []Param{{Type: TypeInteger}, {Type: TypeString}}},
		},
	}

	s := p.Schema()

	assert.Equal(t, "object", s["type"])
	assert.Equal(t, []string{"mode"}, s["required"])
	props := s["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string", "enum": []any{"fast", "slow"}}, props["mode"])
	assert.Equal(t, map[string]any{"type": "array", "items": map[string]any{"type": "string"}}, props["tags"])
	assert.Len(t, props["limit"].(map[string]any)["anyOf"], 2)
}

func TestParamsOf(t *testing.T) {
	type nested struct {
		Depth int `json:"depth"`
	}
	type args struct {
		Name    string   `json:"name" jsonschema:"required"`
		Skip    string   `json:"-"`
		Tags    []string `json:"tags"`
		Ratio   float64  `json:"ratio"`
		Mode    string   `json:"mode" jsonschema:"enum=a|b"`
		Nested  nested   `json:"nested"`
		private bool
	}

	params := ParamsOf(&args{})

	require.Len(t, params, 5)
	assert.Equal(t, Param{Name: "name", Type: TypeString, Required: true}, params[0])
	assert.Equal(t, TypeArray, params[1].Type)
	assert.Equal(t, TypeString, params[1].Items.Type)
	assert.Equal(t, TypeNumber, params[2].Type)
	assert.Equal(t, []string{"a", "b"}, params[3].Enum)
	assert.Equal(t, TypeObject, params[4].Type)
	assert.Equal(t, "depth", params[4].Properties[0].Name)
	assert.Nil(t, ParamsOf("not a struct"))
	_ = args{}.private
}

func TestMergeExisting(t *testing.T) {
	type cfg struct {
		A string `json:"a"`
		B int    `json:"b"`
	}

	assert.Equal(t, cfg{A: "x", B: 2}, MergeExisting(cfg{A: "x", B: 1}, map[string]any{"b": 2, "c": 3}))
	assert.Equal(t, cfg{A: "x", B: 1}, MergeExisting(cfg{A: "x", B: 1}, map[string]any{"c": 3}))
	assert.Equal(t, cfg{A: "x", B: 1}, MergeExisting(cfg{A: "x", B: 1}, map[string]any{"b": "two"}))
	assert.Equal(t, "plain", MergeExisting("plain", map[string]any{"a": 1}))

	ptr := &cfg{A: "p"}
	merged := MergeExisting(ptr, map[string]any{"a": "q"})
	assert.Equal(t, "q", merged.A)
	assert.Equal(t, "p", ptr.A)
}

func TestMergeExisting_DeclaredFields(t *testing.T) {
	type Base struct {
		ID string `json:"id,omitempty"`
	}
	type opts struct {
		Base
		Offset  int    `json:"offset,omitempty"`
		Limit   *int   `json:"limit,omitempty"`
		Secret  string `json:"-"`
		Plain   bool
		private int
	}

	merged := MergeExisting(opts{}, map[string]any{
		"id": "x", "offset": 10, "limit": 5, "Plain": true, "-": "s", "Secret": "s", "private": 1,
	})

	assert.Equal(t, "x", merged.ID)
	assert.Equal(t, 10, merged.Offset)
	require.NotNil(t, merged.Limit)
	assert.Equal(t, 5, *merged.Limit)
	assert.True(t, merged.Plain)
	assert.Empty(t, merged.Secret)
	assert.Zero(t, merged.private)

	m := MergeExisting(map[string]any{"a": 1}, map[string]any{"a": 2, "b": 3})
	assert.Equal(t, map[string]any{"a": float64(2)}, m)
}

func TestEncodeResult(t *testing.T) {
	assert.Equal(t, NewSuccessResult("s"), EncodeResult("s"))
	assert.Equal(t, NewErrorResult("e"), EncodeResult(NewErrorResult("e")))
	assert.Equal(t, "{\n  \"n\": 1\n}", EncodeResult(map[string]int{"n": 1}).Content)
}
