// Package entitymodel holds the JSON schemas for catalogue content documents
// and validates records against them before submission.
package entitymodel

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"morphicutil/pkg/domain"
)

const baseURL = "https://morphic.local/schemas/"

//go:embed schemas/*.json
var schemaFS embed.FS

// schemaFiles maps entity types to their schema document. Undifferentiated
// products share the differentiated shape.
var schemaFiles = map[domain.EntityType]string{
	domain.EntityParentCellLine:         "parent_cell_line.json",
	domain.EntityCellLine:               "cell_line.json",
	domain.EntityDifferentiatedCellLine: "differentiated_cell_line.json",
	domain.EntityUndifferentiated:       "differentiated_cell_line.json",
	domain.EntityLibraryPreparation:     "library_preparation.json",
	domain.EntitySequencingFile:         "sequence_file.json",
	domain.EntityExpressionAlteration:   "expression_alteration.json",
}

// ErrUnknownEntity is returned for entity types without a schema.
var ErrUnknownEntity = errors.New("entitymodel: no schema for entity")

// Validator validates content documents. It is safe for concurrent use.
type Validator struct {
	schemas map[domain.EntityType]*jsonschema.Schema
}

// NewValidator compiles every embedded schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, err
		}
		if err := compiler.AddResource(baseURL+entry.Name(), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", entry.Name(), err)
		}
	}
	v := &Validator{schemas: make(map[domain.EntityType]*jsonschema.Schema, len(schemaFiles))}
	for entity, file := range schemaFiles {
		sch, err := compiler.Compile(baseURL + file)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", file, err)
		}
		v.schemas[entity] = sch
	}
	return v, nil
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultErr       error
)

// Default returns a process-wide validator compiled on first use.
func Default() (*Validator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = NewValidator()
	})
	return defaultValidator, defaultErr
}

// Validate checks content against the schema for entity. Content is
// round-tripped through JSON so Go numeric types validate the way the
// catalogue will see them.
func (v *Validator) Validate(entity domain.EntityType, content map[string]any) error {
	sch, ok := v.schemas[entity]
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownEntity, entity)
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode %s content: %w", entity, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return errors.New(describe(ve))
		}
		return err
	}
	return nil
}

// describe flattens the validation tree to its leaf messages.
func describe(ve *jsonschema.ValidationError) string {
	var leaves []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	slices.Sort(leaves)
	return strings.Join(slices.Compact(leaves), "; ")
}

// Fingerprint identifies the embedded schema set. It changes whenever any
// schema document changes.
func Fingerprint() string {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return ""
	}
	h := sha256.New()
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return ""
		}
		h.Write([]byte(entry.Name()))
		h.Write(raw)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Schema returns the raw schema document for entity.
func Schema(entity domain.EntityType) ([]byte, error) {
	file, ok := schemaFiles[entity]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownEntity, entity)
	}
	return schemaFS.ReadFile(path.Join("schemas", file))
}
