// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ParseResult contains the result of a successful CUE parse operation.
type ParseResult[T any] struct {
	// Value is the decoded Go value.
	Value *T

	// Unified is the schema-unified CUE value, for callers that need to
	// inspect fields the Go type does not carry.
	Unified cue.Value
}

// ParseAndDecode compiles schema and data, unifies data with the definition at
// schemaPath (e.g. "#Catalog"), validates the result and decodes it into T.
func ParseAndDecode[T any](schema, data []byte, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	filename := o.name()

	if err := CheckFileSize(data, o.maxFileSize, filename); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()
	def, err := lookupDefinition(ctx, schema, schemaPath)
	if err != nil {
		return nil, err
	}

	userValue := ctx.CompileBytes(data, cue.Filename(filename))
	if userValue.Err() != nil {
		return nil, FormatError(userValue.Err(), filename)
	}

	return validateAndDecode[T](def.Unify(userValue), filename, o.concrete)
}

// ValidateValue encodes an already-decoded Go value (for example a map read
// from TOML) into CUE, unifies it with the definition at schemaPath and decodes
// the validated result into T.
func ValidateValue[T any](schema []byte, value any, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	filename := o.name()

	ctx := cuecontext.New()
	def, err := lookupDefinition(ctx, schema, schemaPath)
	if err != nil {
		return nil, err
	}

	encoded := ctx.Encode(value)
	if encoded.Err() != nil {
		return nil, FormatError(encoded.Err(), filename)
	}

	return validateAndDecode[T](def.Unify(encoded), filename, o.concrete)
}

func lookupDefinition(ctx *cue.Context, schema []byte, schemaPath string) (cue.Value, error) {
	schemaValue := ctx.CompileBytes(schema)
	if schemaValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: failed to compile schema: %w", schemaValue.Err())
	}

	def := schemaValue.LookupPath(cue.ParsePath(schemaPath))
	if def.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: schema definition %s not found: %w", schemaPath, def.Err())
	}
	return def, nil
}

func validateAndDecode[T any](unified cue.Value, filename string, concrete bool) (*ParseResult[T], error) {
	if err := unified.Validate(cue.Concrete(concrete)); err != nil {
		return nil, FormatError(err, filename)
	}

	var result T
	if err := unified.Decode(&result); err != nil {
		return nil, FormatError(err, filename)
	}

	return &ParseResult[T]{Value: &result, Unified: unified}, nil
}
