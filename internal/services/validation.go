package services

import "strings"

type field struct {
	name  string
	value string
}

// missingFields returns the names of fields that are blank after trimming,
// in argument order.
func missingFields(fields ...field) []string {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}
