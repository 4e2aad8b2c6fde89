package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const schemaBaseURL = "https://github.com/roach88/calt/schemas/tools/"

// ReflectInputSchema produces a JSON Schema document for a tool input struct.
// Fields without omitempty are required; unknown keys are tolerated so plans
// written for older tool versions still load.
func ReflectInputSchema(name string, input any) (json.RawMessage, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = true
	r.AllowAdditionalProperties = true

	s := r.Reflect(input)
	s.ID = jsonschema.ID(schemaBaseURL + name + ".json")
	s.Title = name + " input"

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal %s input schema: %w", name, err)
	}
	return data, nil
}

// mustReflect is used by builtin descriptors whose input structs are fixed.
func mustReflect(name string, input any) json.RawMessage {
	data, err := ReflectInputSchema(name, input)
	if err != nil {
		panic(err)
	}
	return data
}

// compileSchema compiles a tool input schema for validation.
func compileSchema(name string, raw json.RawMessage) (*sjsonschema.Schema, error) {
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s input schema: %w", name, err)
	}
	url := schemaBaseURL + name + ".json"
	c := sjsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add %s input schema: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s input schema: %w", name, err)
	}
	return sch, nil
}

// validateAgainst checks inputs against sch after normalizing them through
// JSON, so YAML-decoded ints and JSON-decoded floats validate alike.
func validateAgainst(sch *sjsonschema.Schema, inputs map[string]any) error {
	if inputs == nil {
		inputs = map[string]any{}
	}
	data, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("inputs are not JSON encodable: %w", err)
	}
	inst, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			return fmt.Errorf("invalid inputs: %s", flatten(ve))
		}
		return err
	}
	return nil
}

var printer = message.NewPrinter(language.English)

func flatten(ve *sjsonschema.ValidationError) string {
	var parts []string
	var walk func(e *sjsonschema.ValidationError)
	walk = func(e *sjsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := "/" + strings.Join(e.InstanceLocation, "/")
			parts = append(parts, fmt.Sprintf("%s: %s", loc, e.ErrorKind.LocalizedString(printer)))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}

// decodeInputs copies validated inputs into a typed input struct.
func decodeInputs(inputs map[string]any, into any) error {
	data, err := json.Marshal(inputs)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}

// toOutput converts a typed result into the generic mapping recorded on runs.
func toOutput(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
