package decision

import (
	"whitelist-bot/internal/common/validation"
)

// submissionSchema validates the submission document built by Submit.
var submissionSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["candidateId", "displayName", "score", "fields"],
  "properties": {
    "candidateId": {"type": "string", "minLength": 1, "maxLength": 32, "pattern": "^[A-Za-z0-9_-]+$"},
    "displayName": {"type": "string", "minLength": 1, "maxLength": 100},
    "avatarUrl":   {"type": "string", "maxLength": 512},
    "score":       {"type": "integer", "minimum": 0, "maximum": 20},
    "fields": {
      "type": "object",
      "maxProperties": 40,
      "additionalProperties": {"type": ["string", "number", "boolean"], "maxLength": 4000}
    }
  }
}`)

// candidateSchema validates the candidate id of every other operation.
var candidateSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["candidateId"],
  "properties": {
    "candidateId": {"type": "string", "minLength": 1, "maxLength": 32, "pattern": "^[A-Za-z0-9_-]+$"},
    "reason":      {"type": "string", "maxLength": 1000}
  }
}`)
