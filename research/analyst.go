package research

import (
	"fmt"
	"strings"
)

// Analyst is one generated research persona.
type Analyst struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Affiliation string `json:"affiliation"`
	Description string `json:"description"`
}

// Persona renders the analyst for completion instructions.
func (a Analyst) Persona() string {
	return fmt.Sprintf("Name: %s\nRole: %s\nAffiliation: %s\nDescription: %s\n",
		a.Name, a.Role, a.Affiliation, a.Description)
}

func (a Analyst) complete() bool {
	return strings.TrimSpace(a.Name) != "" &&
		strings.TrimSpace(a.Role) != "" &&
		strings.TrimSpace(a.Affiliation) != "" &&
		strings.TrimSpace(a.Description) != ""
}

// perspectives is the structured reply of persona generation.
type perspectives struct {
	Analysts []Analyst `json:"analysts"`
}

// perspectivesSchema describes perspectives for the completion capability.
const perspectivesSchema = `{
  "type": "object",
  "properties": {
    "analysts": {
      "type": "array",
      "description": "Comprehensive list of analysts.",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "description": "Name of the analyst."},
          "role": {"type": "string", "description": "Role of the analyst in the context of the topic."},
          "affiliation": {"type": "string", "description": "Primary affiliation of the analyst."},
          "description": {"type": "string", "description": "Description of the analyst focus, concerns, and motives."}
        },
        "required": ["name", "role", "affiliation", "description"]
      }
    }
  },
  "required": ["analysts"]
}`
