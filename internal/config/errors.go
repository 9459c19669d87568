package config

import (
	"fmt"
	"strings"
)

// ConfigError describes malformed or self-contradictory pipeline
// configuration. It is fatal: a pipeline carrying one never starts.
type ConfigError struct {
	// Job is the offending job or template name, if any.
	Job string
	// Field is the offending attribute or block, if any.
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config error")
	if e.Job != "" {
		fmt.Fprintf(&b, " in job %q", e.Job)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %q)", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Detail)
	return b.String()
}

func errf(job, field, format string, args ...any) *ConfigError {
	return &ConfigError{Job: job, Field: field, Detail: fmt.Sprintf(format, args...)}
}
