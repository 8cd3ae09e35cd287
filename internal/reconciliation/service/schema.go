// internal/reconciliation/service/schema.go
package service

import "reconciliation-engine/internal/common/validation"

const createJobSchema = `{
  "type": "object",
  "required": ["project_id", "source_a_id", "source_b_id", "name", "rule_set"],
  "properties": {
    "project_id": {"type": "string", "format": "uuid"},
    "source_a_id": {"type": "string", "format": "uuid"},
    "source_b_id": {"type": "string", "format": "uuid"},
    "name": {"type": "string", "minLength": 1, "maxLength": 255},
    "description": {"type": ["string", "null"], "maxLength": 2000},
    "rule_set": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["field", "rule_type", "weight"],
        "properties": {
          "field": {"type": "string", "minLength": 1},
          "field_b": {"type": "string"},
          "rule_type": {"enum": ["exact", "contains", "fuzzy"]},
          "algorithm": {"enum": ["levenshtein", "jaro_winkler", "jaccard", "cosine", "soundex"]},
          "weight": {"type": "number", "minimum": 0},
          "threshold": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    },
    "confidence_threshold": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var createJobValidator = validation.MustValidator(createJobSchema)
