package mcp

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/trace-mcp/internal/errors"
)

func requireString(request mcp.CallToolRequest, name, hint string) (string, error) {
	value, err := request.RequireString(name)
	if err != nil || strings.TrimSpace(value) == "" {
		return "", errors.MissingParameter(name, hint).WithDetails("tool", request.Params.Name)
	}
	return value, nil
}

// requireInt reads a whole-number argument. JSON numbers arrive as float64.
func requireInt(request mcp.CallToolRequest, name, hint string) (int, error) {
	raw, ok := request.GetArguments()[name]
	if !ok || raw == nil {
		return 0, errors.MissingParameter(name, hint).WithDetails("tool", request.Params.Name)
	}
	f, err := request.RequireFloat(name)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, errors.InvalidParameter(name, raw, "an integer").WithDetails("tool", request.Params.Name)
	}
	return int(f), nil
}

func optionalInt(request mcp.CallToolRequest, name string, def int) (int, error) {
	if raw, ok := request.GetArguments()[name]; !ok || raw == nil {
		return def, nil
	}
	return requireInt(request, name, "")
}

// jsonArg decodes an argument given either as a JSON string or as an
// already structured value. It reports false when the argument is absent.
func jsonArg(request mcp.CallToolRequest, name string, dst interface{}, example string) (bool, error) {
	raw, ok := request.GetArguments()[name]
	if !ok || raw == nil {
		return false, nil
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return false, nil
		}
		data = []byte(v)
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return true, errors.InvalidJSON(name, err, example)
		}
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return true, errors.InvalidJSON(name, err, example)
	}
	return true, nil
}

// scopeIDs accepts a JSON array or a comma-separated list of ids.
func scopeIDs(request mcp.CallToolRequest, name string) ([]string, error) {
	const hint = "Provide the scope ids to fetch, e.g. [\"12\", \"13\"], as listed in an elision message."

	var ids []string
	if raw, ok := request.GetArguments()[name].(string); ok && !strings.HasPrefix(strings.TrimSpace(raw), "[") {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	} else if _, err := jsonArg(request, name, &ids, `["12", "13"]`); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, errors.MissingParameter(name, hint).WithDetails("tool", request.Params.Name)
	}
	return ids, nil
}
