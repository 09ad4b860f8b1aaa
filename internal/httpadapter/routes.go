package httpadapter

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/opal-lang/tenantctl/internal/controlerr"
)

// buildRequest is the pure function of (action, params) -> request,
// covering every action the adapter knows how to route.
func buildRequest(action string, params map[string]any) (request, error) {
	switch action {
	case "project.create":
		return request{method: http.MethodPost, path: "/projects", body: params, omitProject: true}, nil
	case "project.delete":
		id, err := requireString(params, "project_id")
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodDelete, path: "/projects/" + id, omitProject: true}, nil
	case "database.list":
		return request{method: http.MethodGet, path: "/databases", query: scalarQuery(params)}, nil
	case "database.create":
		return request{method: http.MethodPost, path: "/databases", body: params}, nil
	case "database.upsert_collection":
		db, err := requireString(params, "database_id")
		if err != nil {
			return request{}, err
		}
		if collID, ok := params["collection_id"].(string); ok && collID != "" {
			return request{method: http.MethodPut, path: "/databases/" + db + "/collections/" + collID, body: params}, nil
		}
		return request{method: http.MethodPost, path: "/databases/" + db + "/collections", body: params}, nil
	case "database.delete_collection":
		db, err := requireString(params, "database_id")
		if err != nil {
			return request{}, err
		}
		coll, err := requireString(params, "collection_id")
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodDelete, path: "/databases/" + db + "/collections/" + coll}, nil
	case "auth.users.list":
		return request{method: http.MethodGet, path: "/users", query: scalarQuery(params)}, nil
	case "auth.users.create":
		return request{method: http.MethodPost, path: "/users", body: params}, nil
	case "auth.users.update":
		return buildLegacyUserUpdate(params)
	case "auth.users.update.email":
		return userFieldUpdate(params, "/email", "email")
	case "auth.users.update.name":
		return userFieldUpdate(params, "/name", "name")
	case "auth.users.update.status":
		return userFieldUpdate(params, "/status", "status")
	case "auth.users.update.password":
		return userFieldUpdate(params, "/password", "password")
	case "auth.users.update.phone":
		return userFieldUpdateAs(params, "/phone", "phone", "number")
	case "auth.users.update.email_verification":
		return userFieldUpdate(params, "/verification", "email_verification")
	case "auth.users.update.phone_verification":
		return userFieldUpdate(params, "/verification/phone", "phone_verification")
	case "auth.users.update.mfa":
		return userFieldUpdate(params, "/mfa", "mfa")
	case "auth.users.update.labels":
		id, err := requireString(params, "user_id")
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodPut, path: "/users/" + id + "/labels", body: params}, nil
	case "auth.users.update.prefs":
		return userFieldUpdate(params, "/prefs", "prefs")
	case "function.list":
		return request{method: http.MethodGet, path: "/functions", query: scalarQuery(params)}, nil
	case "function.create":
		return request{method: http.MethodPost, path: "/functions", body: params}, nil
	case "function.update":
		id, err := requireString(params, "function_id")
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodPut, path: "/functions/" + id, body: params}, nil
	case "function.deployment.trigger":
		return buildDeploymentTrigger(params)
	case "function.execution.trigger":
		id, err := requireString(params, "function_id")
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodPost, path: "/functions/" + id + "/executions", body: params}, nil
	case "function.execution.status":
		id, err := requireString(params, "function_id")
		if err != nil {
			return request{}, err
		}
		exec, err := requireString(params, "execution_id")
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodGet, path: "/functions/" + id + "/executions/" + exec}, nil
	default:
		return request{}, controlerr.New(controlerr.CodeValidationError, "unknown action %q", action)
	}
}

// legacyUserUpdateOrder is the field-presence precedence for the
// deprecated auth.users.update alias: the first recognized field
// present in params wins.
var legacyUserUpdateOrder = []struct {
	param string
	path  string
	body  string
}{
	{"email", "/email", "email"},
	{"name", "/name", "name"},
	{"status", "/status", "status"},
	{"password", "/password", "password"},
	{"phone", "/phone", "number"},
	{"email_verification", "/verification", "email_verification"},
	{"phone_verification", "/verification/phone", "phone_verification"},
	{"mfa", "/mfa", "mfa"},
	{"prefs", "/prefs", "prefs"},
}

func buildLegacyUserUpdate(params map[string]any) (request, error) {
	id, err := requireString(params, "user_id")
	if err != nil {
		return request{}, err
	}
	if _, ok := params["labels"]; ok {
		return request{method: http.MethodPut, path: "/users/" + id + "/labels", body: params}, nil
	}
	for _, f := range legacyUserUpdateOrder {
		v, present := params[f.param]
		if !present {
			continue
		}
		return request{method: http.MethodPatch, path: "/users/" + id + f.path, body: map[string]any{f.body: v}}, nil
	}
	return request{}, controlerr.New(controlerr.CodeValidationError, "auth.users.update: no recognized field present in params")
}

func userFieldUpdate(params map[string]any, suffix, field string) (request, error) {
	return userFieldUpdateAs(params, suffix, field, field)
}

func userFieldUpdateAs(params map[string]any, suffix, sourceField, bodyKey string) (request, error) {
	id, err := requireString(params, "user_id")
	if err != nil {
		return request{}, err
	}
	value, ok := params[sourceField]
	if !ok {
		return request{}, controlerr.New(controlerr.CodeValidationError, "%s is required", sourceField)
	}
	return request{method: http.MethodPatch, path: "/users/" + id + suffix, body: map[string]any{bodyKey: value}}, nil
}

func buildDeploymentTrigger(params map[string]any) (request, error) {
	id, err := requireString(params, "function_id")
	if err != nil {
		return request{}, err
	}
	code, ok := params["code"].([]byte)
	if !ok {
		if s, ok := params["code"].(string); ok {
			code = []byte(s)
		} else {
			return request{}, controlerr.New(controlerr.CodeValidationError, "code is required for function.deployment.trigger")
		}
	}

	fields := make(map[string]string)
	for _, k := range []string{"activate", "entrypoint", "commands"} {
		if v, ok := params[k]; ok {
			fields[k] = fmt.Sprintf("%v", v)
		}
	}

	return request{
		method: http.MethodPost,
		path:   "/functions/" + id + "/deployments",
		multipart: &multipartBody{
			fields:    fields,
			fileField: "code",
			fileName:  "code.tar.gz",
			fileBytes: code,
		},
	}, nil
}

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", controlerr.New(controlerr.CodeValidationError, "%s is required", key)
	}
	return v, nil
}

// scalarQuery appends only scalar-typed param values to the query
// string, ignoring nested values.
func scalarQuery(params map[string]any) url.Values {
	q := url.Values{}
	for k, v := range params {
		switch val := v.(type) {
		case string:
			q.Set(k, val)
		case bool:
			q.Set(k, fmt.Sprintf("%t", val))
		case float64:
			q.Set(k, fmt.Sprintf("%v", val))
		case int:
			q.Set(k, fmt.Sprintf("%d", val))
		}
	}
	return q
}
