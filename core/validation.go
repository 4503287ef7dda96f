// Copyright 2025 Cloudlint Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
)

// uuidPattern matches a lowercase canonical UUID.
var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ValidateRecommendation checks a recommendation against the schema. It is a
// pure function of (entry, schema): required-field presence, per-field type
// conformance including nullable unions, enum membership, numeric range
// bounds, and identifier format.
func ValidateRecommendation(rec *Recommendation, schema *Schema) (bool, []string) {
	if rec == nil {
		return false, []string{"entry is nil"}
	}

	// The schema describes the JSON document shape, so validation runs over
	// the generic JSON view of the entry rather than the struct.
	entry, err := toGeneric(rec)
	if err != nil {
		return false, []string{fmt.Sprintf("entry is not serializable: %v", err)}
	}

	var errs []string
	errs = append(errs, checkRequired(entry, schema)...)
	errs = append(errs, checkTypes(entry, schema)...)
	errs = append(errs, checkEnums(entry, schema)...)
	errs = append(errs, checkRanges(entry, schema)...)
	errs = append(errs, checkPatterns(entry, schema)...)
	errs = append(errs, checkUUID(entry)...)

	return len(errs) == 0, errs
}

func toGeneric(rec *Recommendation) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func checkRequired(entry map[string]any, schema *Schema) []string {
	var errs []string
	for _, field := range schema.Required {
		v, ok := entry[field]
		if !ok || v == nil || v == "" {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", field))
		}
	}
	return errs
}

func checkTypes(entry map[string]any, schema *Schema) []string {
	var errs []string
	for field, value := range entry {
		prop, ok := schema.Properties[field]
		if !ok || value == nil {
			continue
		}
		types := prop.Types()
		if len(types) == 0 {
			continue
		}
		matched := false
		for _, t := range types {
			if matchesType(value, t) {
				matched = true
				break
			}
		}
		if !matched {
			if len(types) == 1 {
				errs = append(errs, fmt.Sprintf("Field '%s' has invalid type. Expected %s, got %T", field, types[0], value))
			} else {
				errs = append(errs, fmt.Sprintf("Field '%s' has invalid type. Expected one of %v, got %T", field, types, value))
			}
		}
	}
	return errs
}

// matchesType checks a decoded JSON value against a schema type name. JSON
// numbers decode to float64, so "integer" additionally requires a whole
// value.
func matchesType(value any, typeName string) bool {
	switch typeName {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		n, ok := value.(float64)
		return ok && n == math.Trunc(n)
	case "number":
		_, ok := value.(float64)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

func checkEnums(entry map[string]any, schema *Schema) []string {
	var errs []string
	for field, value := range entry {
		prop, ok := schema.Properties[field]
		if !ok || value == nil || len(prop.Enum) == 0 {
			continue
		}
		allowed := false
		for _, e := range prop.Enum {
			if e == value {
				allowed = true
				break
			}
		}
		if !allowed {
			errs = append(errs, fmt.Sprintf("Field '%s' has invalid value '%v'. Allowed values: %v", field, value, prop.Enum))
		}
	}
	return errs
}

func checkRanges(entry map[string]any, schema *Schema) []string {
	var errs []string
	for field, value := range entry {
		prop, ok := schema.Properties[field]
		if !ok || value == nil {
			continue
		}
		n, ok := value.(float64)
		if !ok {
			continue
		}
		if prop.Minimum != nil && n < *prop.Minimum {
			errs = append(errs, fmt.Sprintf("Field '%s' value %v is below minimum %v", field, value, *prop.Minimum))
		}
		if prop.Maximum != nil && n > *prop.Maximum {
			errs = append(errs, fmt.Sprintf("Field '%s' value %v exceeds maximum %v", field, value, *prop.Maximum))
		}
	}
	return errs
}

func checkPatterns(entry map[string]any, schema *Schema) []string {
	var errs []string
	for field, value := range entry {
		prop, ok := schema.Properties[field]
		if !ok || value == nil || prop.Pattern == "" || field == "id" {
			continue
		}
		s, ok := value.(string)
		if !ok {
			continue
		}
		re, err := regexp.Compile(prop.Pattern)
		if err != nil {
			continue
		}
		if !re.MatchString(s) {
			errs = append(errs, fmt.Sprintf("Field '%s' value '%s' does not match pattern %s", field, s, prop.Pattern))
		}
	}
	return errs
}

func checkUUID(entry map[string]any) []string {
	id, ok := entry["id"].(string)
	if !ok {
		return nil
	}
	if !uuidPattern.MatchString(id) {
		return []string{fmt.Sprintf("Field 'id' does not match UUID format: %s", id)}
	}
	return nil
}
