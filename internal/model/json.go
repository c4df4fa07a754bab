package model

import "encoding/json"

// The helpers below decode optional JSON sub-documents stored alongside shop
// rows. Malformed or empty input decodes to the zero value instead of failing
// the whole load.

// DecodeLocalVariables decodes a local variable list.
func DecodeLocalVariables(raw string) []LocalVariable {
	if raw == "" {
		return nil
	}
	var vars []LocalVariable
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil
	}
	out := vars[:0]
	for _, v := range vars {
		if v.Name != "" {
			out = append(out, v)
		}
	}
	return out
}

// DecodeAppearance decodes an appearance override.
func DecodeAppearance(raw string) *Appearance {
	if raw == "" || raw == "null" {
		return nil
	}
	var a Appearance
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil
	}
	if a.ModelType < 0 || a.SimpleModelNumber < 0 {
		return nil
	}
	return &a
}

// DecodeCategories decodes an accepted base item type set.
func DecodeCategories(raw string) []int {
	if raw == "" {
		return nil
	}
	var cats []int
	if err := json.Unmarshal([]byte(raw), &cats); err != nil {
		return nil
	}
	return cats
}

// EncodeJSON encodes v for storage, returning "" for empty values.
func EncodeJSON(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []LocalVariable:
		if len(x) == 0 {
			return ""
		}
	case []int:
		if len(x) == 0 {
			return ""
		}
	case *Appearance:
		if x == nil {
			return ""
		}
	case map[string]string:
		if len(x) == 0 {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
