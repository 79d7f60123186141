package extractor

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/goccy/go-json"
)

// entitySchemaJSON mirrors domain.ExtractedEntities field-for-field (§4.5):
// the LLM is constrained to emit exactly this shape before it ever reaches
// Go-side unmarshaling.
const entitySchemaJSON = `{
  "type": "object",
  "required": ["overall_confidence"],
  "properties": {
    "project_names": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["value", "confidence"],
        "properties": {
          "value": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "aliases": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "address": {
      "type": ["object", "null"],
      "properties": {
        "full": {"type": "string"},
        "street": {"type": "string"},
        "locality": {"type": "string"},
        "region": {"type": "string"},
        "postcode": {"type": "string"},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "job_numbers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["value", "source", "confidence"],
        "properties": {
          "value": {"type": "string"},
          "source": {"type": "string", "enum": ["subject", "body", "signature", "attachment-filename"]},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    },
    "client": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "email": {"type": "string"},
        "phone": {"type": "string"},
        "company": {"type": "string"},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "project_type": {"type": "string"},
    "keywords": {"type": "array", "items": {"type": "string"}},
    "overall_confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var entitySchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("entity.json", bytes.NewReader([]byte(entitySchemaJSON))); err != nil {
		panic(fmt.Sprintf("extractor: invalid entity schema: %v", err))
	}
	schema, err := compiler.Compile("entity.json")
	if err != nil {
		panic(fmt.Sprintf("extractor: failed to compile entity schema: %v", err))
	}
	entitySchema = schema
}

// validateEntityJSON reports whether raw conforms to entitySchema: it decodes
// raw into the generic form the schema validator needs and returns the decode
// or validation error, or nil when raw conforms.
func validateEntityJSON(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return entitySchema.Validate(v)
}
