//nolint:testpackage // internal test needs access to unexported field lists
package config

import (
	"reflect"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestEnvFieldsCoverStructFields verifies that clientEnvFields contains every
// field from ClientConfig. It fails when a field is added to the struct but
// not to the env binding list.
func TestEnvFieldsCoverStructFields(t *testing.T) {
	expected := extractMapstructureFields(reflect.TypeFor[ClientConfig](), "")
	sort.Strings(expected)

	actual := make([]string, len(clientEnvFields))
	copy(actual, clientEnvFields)
	sort.Strings(actual)

	assert.Equal(t, expected, actual,
		"clientEnvFields must contain all fields from ClientConfig.\n"+
			"If you added a new field to ClientConfig, add it to clientEnvFields in config.go")
}

// extractMapstructureFields recursively extracts all mapstructure tag values from a struct type.
func extractMapstructureFields(t reflect.Type, prefix string) []string {
	var fields []string

	for i := range t.NumField() {
		field := t.Field(i)

		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		fullName := tag
		if prefix != "" {
			fullName = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			fields = append(fields, extractMapstructureFields(field.Type, fullName)...)
		} else {
			fields = append(fields, fullName)
		}
	}

	return fields
}
