package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchema = `{
	"type": "object",
	"required": ["name", "age"],
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "integer", "minimum": 18},
		"email": {"type": "string", "format": "email"},
		"tags": {"type": "array", "items": {"type": "string"}}
	}
}`

func decode(t *testing.T, body string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestValidate_Valid(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.Validate(userSchema, decode(t, `{"name":"ann","age":30}`)))
}

func TestValidate_Failures(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		body     string
		wantPath string
	}{
		{"below minimum", `{"name":"ann","age":16}`, "age"},
		{"wrong type", `{"name":7,"age":20}`, "name"},
		{"missing required", `{"name":"ann"}`, "root"},
		{"bad format", `{"name":"ann","age":20,"email":"nope"}`, "email"},
		{"nested array item", `{"name":"ann","age":20,"tags":["a",3]}`, "tags.1"},
		{"not an object", `[1,2]`, "root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(userSchema, decode(t, tt.body))
			require.Error(t, err)
			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tt.wantPath, f.Path)
			assert.NotEmpty(t, f.Message)
			assert.Equal(t, f.Path+": "+f.Message, err.Error())
		})
	}
}

func TestCheck_InvalidSchema(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.Check(userSchema))
	assert.ErrorIs(t, v.Check(`{not json`), ErrInvalidSchema)
	assert.ErrorIs(t, v.Check(`{"type": 12}`), ErrInvalidSchema)
	assert.ErrorIs(t, v.Validate(`{"minimum": "x"}`, 1), ErrInvalidSchema)
}

func TestValidate_CachesCompiledSchema(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Check(userSchema))
	require.NoError(t, v.Check(userSchema))
	assert.Len(t, v.cache, 1)
}

func TestDottedPath(t *testing.T) {
	assert.Equal(t, "root", dottedPath(""))
	assert.Equal(t, "root", dottedPath("/"))
	assert.Equal(t, "a.b.0", dottedPath("/a/b/0"))
	assert.Equal(t, "a/b.c~d", dottedPath("/a~1b/c~0d"))
}
