package automation

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/actions.json
var actionsSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func actionsSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(actionsSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse actions schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("actions.json", doc); err != nil {
			schemaErr = fmt.Errorf("add actions schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("actions.json")
	})
	return schema, schemaErr
}

// ValidateActions checks an actions document against the bundled schema.
func ValidateActions(raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("actions document is empty")
	}
	sch, err := actionsSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("actions is not valid JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("invalid actions: %w", err)
	}
	return nil
}
