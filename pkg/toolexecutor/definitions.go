package toolexecutor

import "fmt"

// Kind identifies one of the fixed tools.
type Kind int

const (
	ListTables Kind = iota + 1
	GetSchema
	RunQuery
)

var kindNames = map[Kind]string{
	ListTables: "list_tables",
	GetSchema:  "get_schema",
	RunQuery:   "run_sql",
}

// String returns the wire name the model uses.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves a wire name.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Items       string      `json:"items,omitempty"` // element type for arrays
	Minimum     *int        `json:"minimum,omitempty"`
	Maximum     *int        `json:"maximum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition describes a tool as it is advertised to the model.
type ToolDefinition struct {
	Kind        Kind            `json:"-"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

func intPtr(v int) *int { return &v }

// Definitions returns the descriptors in the order they are sent to the model.
// maxRowLimit bounds the run_sql limit parameter.
func Definitions(maxRowLimit int) []ToolDefinition {
	if maxRowLimit <= 0 {
		maxRowLimit = 200
	}
	return []ToolDefinition{
		{
			Kind:        ListTables,
			Name:        ListTables.String(),
			Description: "List available tables in the database.",
			Parameters:  []ToolParameter{},
		},
		{
			Kind:        GetSchema,
			Name:        GetSchema.String(),
			Description: "Get column metadata for specific tables.",
			Parameters: []ToolParameter{
				{
					Name:        "tables",
					Type:        "array",
					Items:       "string",
					Description: "Table names to inspect.",
					Required:    true,
					Default:     []interface{}{},
				},
			},
		},
		{
			Kind:        RunQuery,
			Name:        RunQuery.String(),
			Description: "Execute a read-only SQL SELECT query against the database.",
			Parameters: []ToolParameter{
				{
					Name:        "query",
					Type:        "string",
					Description: "SQL SELECT to execute.",
					Required:    true,
				},
				{
					Name:        "limit",
					Type:        "integer",
					Description: "Maximum rows to return (default 50).",
					Minimum:     intPtr(1),
					Maximum:     intPtr(maxRowLimit),
				},
			},
		},
	}
}

// JSONSchema renders the parameter list as a JSON schema object.
func (d ToolDefinition) JSONSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Parameters))
	required := []string{}

	for _, param := range d.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Items != "" {
			paramSchema["items"] = map[string]interface{}{"type": param.Items}
		}
		if param.Minimum != nil {
			paramSchema["minimum"] = *param.Minimum
		}
		if param.Maximum != nil {
			paramSchema["maximum"] = *param.Maximum
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
