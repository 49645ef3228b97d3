package sanitization

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/theory-cloud/redrive"
)

// SanitizeJSON sanitizes a JSON document for logging, preserving its structure.
func SanitizeJSON(jsonBytes []byte) string {
	if len(jsonBytes) == 0 {
		return "(empty)"
	}

	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return fmt.Sprintf("(malformed JSON: %s)", SanitizeLogString(err.Error()))
	}

	out, err := json.Marshal(clean(data))
	if err != nil {
		return "(error marshaling sanitized JSON)"
	}
	return string(out)
}

// SanitizeRecord renders a record for logs with sensitive fields masked. Malformed records
// render as their sanitized raw text.
func SanitizeRecord(record redrive.Record) string {
	data, err := record.MarshalJSON()
	if err != nil {
		return "(unencodable record)"
	}
	if _, bad := record.Malformed(); bad {
		return SanitizeLogString(string(data))
	}
	return SanitizeJSON(data)
}
