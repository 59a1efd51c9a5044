package tracefile

// EnvelopeSchema constrains the keys every record type owns. Span fields
// supplied by callers are deliberately left unconstrained.
const EnvelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Trace record envelope",
  "type": "object",
  "required": ["record_type", "timestamp"],
  "properties": {
    "record_type": {
      "type": "string",
      "enum": ["metadata", "span", "summary"]
    },
    "run_id": {
      "type": "string",
      "minLength": 1
    },
    "timestamp": {
      "type": "string",
      "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2}(\\.[0-9]+)?Z$"
    }
  },
  "allOf": [
    {
      "if": {"properties": {"record_type": {"const": "metadata"}}},
      "then": {"required": ["run_id"]}
    },
    {
      "if": {"properties": {"record_type": {"const": "span"}}},
      "then": {
        "required": ["span_id", "run_id", "name"],
        "properties": {
          "span_id": {"type": "string", "minLength": 1},
          "name": {"type": "string"}
        }
      }
    },
    {
      "if": {"properties": {"record_type": {"const": "summary"}}},
      "then": {
        "required": ["run_id", "duration_ms", "span_count"],
        "properties": {
          "duration_ms": {"type": "number", "minimum": 0},
          "span_count": {"type": "integer", "minimum": 0}
        }
      }
    }
  ]
}`
