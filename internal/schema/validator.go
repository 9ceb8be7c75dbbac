// Package schema checks inbound mock request bodies against JSON Schema (draft 7) documents.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidSchema marks a schema document that cannot be parsed or compiled.
var ErrInvalidSchema = errors.New("invalid schema")

const maxCached = 512

// Failure describes the first constraint a payload violated.
type Failure struct {
	Path    string
	Message string
}

func (f *Failure) Error() string {
	return f.Path + ": " + f.Message
}

// Validator compiles schema documents on demand and caches them by source text.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{cache: make(map[string]*jsonschema.Schema)}
}

// Check reports whether doc is a usable schema. It is called when endpoints are saved.
func (v *Validator) Check(doc string) error {
	_, err := v.compile(doc)
	return err
}

// Validate returns nil, a *Failure, or an error wrapping ErrInvalidSchema.
func (v *Validator) Validate(doc string, payload any) error {
	sch, err := v.compile(doc)
	if err != nil {
		return err
	}
	err = sch.Validate(payload)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		leaf := firstLeaf(verr)
		return &Failure{Path: dottedPath(leaf.InstanceLocation), Message: leaf.Message}
	}
	return &Failure{Path: "root", Message: err.Error()}
}

func (v *Validator) compile(doc string) (*jsonschema.Schema, error) {
	v.mu.RLock()
	sch, ok := v.cache[doc]
	v.mu.RUnlock()
	if ok {
		return sch, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	compiler.AssertFormat = true
	if err := compiler.AddResource("schema.json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	sch, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	v.mu.Lock()
	if len(v.cache) >= maxCached {
		clear(v.cache)
	}
	v.cache[doc] = sch
	v.mu.Unlock()
	return sch, nil
}

func firstLeaf(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}

// dottedPath turns a JSON pointer such as "/items/0/name" into "items.0.name".
func dottedPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return "root"
	}
	segments := strings.Split(pointer, "/")
	for i, s := range segments {
		s = strings.ReplaceAll(s, "~1", "/")
		segments[i] = strings.ReplaceAll(s, "~0", "~")
	}
	return strings.Join(segments, ".")
}
