package wire

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// commandSchema constrains client-to-server messages before they reach
// command dispatch. Payload requirements that depend on the verb (Set
// needs a full note, Delete only an id) are enforced in DecodeClient.
const commandSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["command"],
	"additionalProperties": false,
	"properties": {
		"command": {
			"type": "string",
			"enum": ["Get", "Set", "Delete"]
		},
		"note": {
			"type": "object",
			"required": ["id"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"content": {"type": "string"},
				"updated": {"type": "string"}
			}
		}
	}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func commandSchemaCompiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(commandSchema))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("command.json", doc); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("command.json")
	})
	return compiledSchema, schemaErr
}

func validateCommand(data []byte) error {
	schema, err := commandSchemaCompiled()
	if err != nil {
		return fmt.Errorf("compile command schema: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
