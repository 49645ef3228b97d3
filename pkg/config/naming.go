package config

import "strings"

// stageAliases maps accepted stage spellings to the canonical suffix.
var stageAliases = map[string]string{
	"prod":        "live",
	"production":  "live",
	"live":        "live",
	"dev":         "dev",
	"development": "dev",
	"stg":         "stage",
	"stage":       "stage",
	"staging":     "stage",
	"test":        "test",
	"testing":     "test",
}

// slug lowercases value and joins its alphanumeric runs with single dashes.
func slug(value string) string {
	words := strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	return strings.Join(words, "-")
}

// NormalizeStage returns the canonical stage for known aliases and a slug otherwise.
func NormalizeStage(stage string) string {
	s := slug(stage)
	if canonical, ok := stageAliases[s]; ok {
		return canonical
	}
	return s
}

// ResourceName returns <app>-<resource>[-<stage>], dropping empty parts.
func ResourceName(app, resource, stage string) string {
	var parts []string
	for _, p := range []string{slug(app), slug(resource), NormalizeStage(stage)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}
