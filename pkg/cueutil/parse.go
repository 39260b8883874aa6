// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/format"
)

// ParseResult is the outcome of a successful ParseAndDecode.
type ParseResult[T any] struct {
	// Value is the decoded Go value.
	Value *T

	// Unified is the schema-unified CUE value.
	Unified cue.Value
}

// ParseAndDecode compiles schema, unifies data with the definition at
// schemaPath (for example "#Manifest"), validates and decodes into T.
// Errors carry the file name and the JSON path of the offending field.
func ParseAndDecode[T any](schema, data []byte, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	filename := options.filename
	if filename == "" {
		filename = "<input>"
	}

	if err := CheckFileSize(data, options.maxFileSize, filename); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileBytes(schema)
	if schemaValue.Err() != nil {
		return nil, fmt.Errorf("internal error: failed to compile schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(filename))
	if userValue.Err() != nil {
		return nil, FormatError(userValue.Err(), filename)
	}

	root := schemaValue.LookupPath(cue.ParsePath(schemaPath))
	if root.Err() != nil {
		return nil, fmt.Errorf("internal error: schema definition %s not found: %w", schemaPath, root.Err())
	}

	unified := root.Unify(userValue)
	if err := unified.Validate(cue.Concrete(options.concrete)); err != nil {
		return nil, FormatError(err, filename)
	}

	var result T
	if err := unified.Decode(&result); err != nil {
		return nil, FormatError(err, filename)
	}

	return &ParseResult[T]{Value: &result, Unified: unified}, nil
}

// Encode renders v as formatted CUE source. Field names follow the json
// struct tags of v, which are the same tags ParseAndDecode decodes through.
func Encode(v any) ([]byte, error) {
	val := cuecontext.New().Encode(v)
	if val.Err() != nil {
		return nil, fmt.Errorf("failed to encode CUE value: %w", val.Err())
	}

	out, err := format.Node(val.Syntax(cue.Final(), cue.Concrete(true)), format.Simplify())
	if err != nil {
		return nil, fmt.Errorf("failed to format CUE value: %w", err)
	}
	return out, nil
}
