package template

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// placeholder matches ${name} (group 1) or $name (group 2). Both forms are
// matched in one pass so substituted values are never expanded again.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Expander expands variable patterns in strings.
//
// Create with NewExpander() and configure with Option functions.
// Expander is safe for concurrent use after construction.
type Expander struct {
	missingAction MissingAction
	braceStyle    bool
	dollarStyle   bool
}

// NewExpander creates a new Expander with the given options.
//
// Defaults: MissingKeep, ${var} and $var both enabled.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{
		missingAction: MissingKeep,
		braceStyle:    true,
		dollarStyle:   true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand expands variable patterns in s using vars. Values are formatted
// with %v. An error is returned only under MissingError, together with the
// partially expanded string.
func (e *Expander) Expand(s string, vars map[string]any) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	out := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			if !e.braceStyle {
				return match
			}
			name = match[2 : len(match)-1]
		} else {
			if !e.dollarStyle {
				return match
			}
			name = match[1:]
		}

		if val, ok := vars[name]; ok {
			return fmt.Sprintf("%v", val)
		}
		switch e.missingAction {
		case MissingEmpty:
			return ""
		case MissingError:
			if !slices.Contains(missing, name) {
				missing = append(missing, name)
			}
		}
		return match
	})

	if len(missing) > 0 {
		return out, &UndefinedVariableError{Names: missing}
	}
	return out, nil
}

// MustExpand is Expand that panics on error.
func (e *Expander) MustExpand(s string, vars map[string]any) string {
	result, err := e.Expand(s, vars)
	if err != nil {
		panic(fmt.Sprintf("template: %v", err))
	}
	return result
}

// ExpandMap expands every string value of m, recursing into nested
// map[string]any. Other values are copied as-is.
func (e *Expander) ExpandMap(m map[string]any, vars map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}

	result := make(map[string]any, len(m))
	for k, v := range m {
		var err error
		switch val := v.(type) {
		case string:
			result[k], err = e.Expand(val, vars)
		case map[string]any:
			result[k], err = e.ExpandMap(val, vars)
		default:
			result[k] = v
		}
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UndefinedVariableError is returned when MissingError is set and
// one or more variables are not found.
type UndefinedVariableError struct {
	// Names lists the undefined variables in order of first appearance.
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

var defaultExpander = NewExpander()

// Expand expands s with the default expander, keeping unknown placeholders.
func Expand(s string, vars map[string]any) string {
	result, _ := defaultExpander.Expand(s, vars)
	return result
}
