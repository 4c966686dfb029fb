package gemini

// schemaKeys are the JSON Schema keywords accepted in Gemini function
// declarations. Everything else is dropped.
var schemaKeys = map[string]bool{
	"type":        true,
	"description": true,
	"enum":        true,
	"format":      true,
	"nullable":    true,
	"required":    true,
	"properties":  true,
	"items":       true,
}

// sanitizeParameters reduces a JSON Schema to the OpenAPI subset understood by
// the Live API. An object schema without properties yields nil so the
// declaration is sent without parameters.
func sanitizeParameters(schema map[string]any) map[string]any {
	if len(schema) == 0 {
		return nil
	}
	out := sanitizeSchema(schema)
	if out["type"] == "object" {
		if props, _ := out["properties"].(map[string]any); len(props) == 0 {
			return nil
		}
	}
	return out
}

func sanitizeSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if !schemaKeys[k] {
			continue
		}
		switch k {
		case "type":
			typ, nullable := collapseType(v)
			if typ == "" {
				continue
			}
			out["type"] = typ
			if nullable {
				out["nullable"] = true
			}
		case "properties":
			props, ok := v.(map[string]any)
			if !ok {
				continue
			}
			clean := make(map[string]any, len(props))
			for name, p := range props {
				if pm, ok := p.(map[string]any); ok {
					clean[name] = sanitizeSchema(pm)
				}
			}
			out["properties"] = clean
		case "items":
			if im, ok := v.(map[string]any); ok {
				out["items"] = sanitizeSchema(im)
			}
		case "required":
			if req, ok := v.([]any); ok && len(req) > 0 {
				out["required"] = req
			}
			if req, ok := v.([]string); ok && len(req) > 0 {
				out["required"] = req
			}
		default:
			out[k] = v
		}
	}
	return out
}

// collapseType turns a JSON Schema type union such as ["string","null"] into a
// single type plus a nullable flag.
func collapseType(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, false
	case []any:
		var typ string
		var nullable bool
		for _, e := range t {
			s, _ := e.(string)
			switch {
			case s == "null":
				nullable = true
			case typ == "":
				typ = s
			}
		}
		return typ, nullable
	case []string:
		anys := make([]any, len(t))
		for i, s := range t {
			anys[i] = s
		}
		return collapseType(anys)
	default:
		return "", false
	}
}
