package devices

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/vprocontrol/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/inventory.json
var inventorySchemaJSON string

// InventoryError lists every schema violation of an inventory document,
// one "<location>: <message>" entry per leaf failure.
type InventoryError struct {
	Issues []string
}

func (e *InventoryError) Error() string {
	return "invalid inventory: " + strings.Join(e.Issues, "; ")
}

// Validator checks inventories against the embedded draft-07 schema.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	if err := compiler.AddResource("inventory.json", strings.NewReader(inventorySchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("inventory.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateInventory checks a JSON inventory document. Schema violations are
// returned as *InventoryError.
func (v *Validator) ValidateInventory(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return &InventoryError{Issues: leafIssues(verr, nil)}
}

// ValidateDefinition checks a single device entry as it would appear in the
// "devices" list.
func (v *Validator) ValidateDefinition(def types.DeviceDefinition) error {
	data, err := json.Marshal(types.Inventory{Devices: []types.DeviceDefinition{def}})
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}

	return v.ValidateInventory(data)
}

func leafIssues(e *jsonschema.ValidationError, out []string) []string {
	if len(e.Causes) == 0 {
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return append(out, loc+": "+e.Message)
	}
	for _, cause := range e.Causes {
		out = leafIssues(cause, out)
	}
	return out
}
