package catalog

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/opal-lang/tenantctl/internal/controlerr"
)

// paramSchemas holds the per-action JSON Schema for operation.params,
// compiled once at package init. Actions without a listed schema accept
// any params shape, since their fields are passed through opaquely.
var paramSchemas = map[string]string{
	"project.create":   `{"type":"object","required":["name"],"properties":{"name":{"type":"string","minLength":1}}}`,
	"project.delete":   `{"type":"object","required":["project_id"],"properties":{"project_id":{"type":"string","minLength":1}}}`,
	"database.create":  `{"type":"object","required":["database_id","name"],"properties":{"database_id":{"type":"string","minLength":1},"name":{"type":"string","minLength":1}}}`,
	"database.upsert_collection": `{"type":"object","required":["database_id"],"properties":{"database_id":{"type":"string","minLength":1}}}`,
	"database.delete_collection": `{"type":"object","required":["database_id","collection_id"],"properties":{"database_id":{"type":"string","minLength":1},"collection_id":{"type":"string","minLength":1}}}`,
	"auth.users.create": `{"type":"object","required":["user_id","email"],"properties":{"user_id":{"type":"string","minLength":1},"email":{"type":"string","minLength":1}}}`,
	"auth.users.update.email":    `{"type":"object","required":["user_id","email"],"properties":{"user_id":{"type":"string","minLength":1}}}`,
	"auth.users.update.name":     `{"type":"object","required":["user_id","name"],"properties":{"user_id":{"type":"string","minLength":1}}}`,
	"auth.users.update.status":   `{"type":"object","required":["user_id","status"],"properties":{"user_id":{"type":"string","minLength":1}}}`,
	"auth.users.update.password": `{"type":"object","required":["user_id","password"],"properties":{"user_id":{"type":"string","minLength":1}}}`,
	"auth.users.update.phone":    `{"type":"object","required":["user_id","phone"],"properties":{"user_id":{"type":"string","minLength":1}}}`,
	"function.deployment.trigger": `{"type":"object","required":["function_id","code"],"properties":{"function_id":{"type":"string","minLength":1}}}`,
	"function.execution.status":   `{"type":"object","required":["function_id","execution_id"]}`,
}

var compiled = compileAll(paramSchemas)

func compileAll(schemas map[string]string) map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(schemas))
	for action, raw := range schemas {
		compiler := jsonschema.NewCompiler()
		resourceName := action + ".json"
		if err := compiler.AddResource(resourceName, strings.NewReader(raw)); err != nil {
			panic("catalog: invalid built-in schema for " + action + ": " + err.Error())
		}
		schema, err := compiler.Compile(resourceName)
		if err != nil {
			panic("catalog: compiling built-in schema for " + action + ": " + err.Error())
		}
		out[action] = schema
	}
	return out
}

// ValidateParams checks params against action's registered schema, if
// any. Actions without a registered schema are accepted unconditionally.
func ValidateParams(action string, params map[string]any) error {
	schema, ok := compiled[action]
	if !ok {
		return nil
	}
	if err := schema.Validate(toJSONInstance(params)); err != nil {
		return controlerr.New(controlerr.CodeValidationError, "%s: %v", action, err)
	}
	return nil
}

// toJSONInstance converts a map[string]any potentially containing Go int
// values into the float64/string/bool/nil shape jsonschema/v5 expects.
func toJSONInstance(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = toJSONInstance(sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = toJSONInstance(el)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}
