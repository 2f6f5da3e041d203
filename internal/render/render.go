// Package render performs sandboxed variable substitution on prompt bodies.
// It deliberately supports only {{variable}} placeholders; anything richer is
// the concern of whoever authored the prompt template, not of the registry.
package render

import (
	"fmt"
	"regexp"
)

// varPattern matches {{variable}} placeholders with optional whitespace.
var varPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Render substitutes {{variable}} placeholders in body from variables.
// Placeholders without a matching variable are replaced with an empty string.
func Render(body string, variables map[string]interface{}) string {
	return varPattern.ReplaceAllStringFunc(body, func(match string) string {
		groups := varPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		val, ok := variables[groups[1]]
		if !ok {
			return ""
		}
		return fmt.Sprintf("%v", val)
	})
}

// RenderStrings is Render for a plain string-to-string variable map.
func RenderStrings(body string, variables map[string]string) string {
	vars := make(map[string]interface{}, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	return Render(body, vars)
}

// Variables returns the distinct placeholder names referenced by body,
// in order of first appearance.
func Variables(body string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, groups := range varPattern.FindAllStringSubmatch(body, -1) {
		name := groups[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
