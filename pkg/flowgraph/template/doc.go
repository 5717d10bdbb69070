/*
Package template provides variable expansion for strings and named prompt
sets.

# Expansion

	result := template.Expand("Hello ${name}", map[string]any{"name": "World"})
	// result: "Hello World"

Both ${var} and $var are recognised; $var extends over the longest run of
word characters, so $port never matches inside $portNumber. Expansion is a
single pass: a substituted value is never expanded again.

Missing variables are kept by default. MissingEmpty drops them and
MissingError keeps them and returns an UndefinedVariableError listing each
missing name once.

# Sets

A Set holds named templates, typically one prompt per pipeline stage:

	prompts := template.NewSet().
	    Add("writing", "Write a script about ${topic} following ${outline}.")
	text, err := prompts.Render("writing", vars)

Sets default to MissingError with $var disabled. Templates may be
overridden from a YAML mapping with ReadYAML or LoadFile.
*/
package template
