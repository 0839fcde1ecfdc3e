package monitor

// Document-number fields carry government identifiers; outbound payloads get
// them masked, keeping only the last four digits.

func isDocumentField(key string) bool {
	switch key {
	case "document_number", "documentNumber", "document":
		return true
	}
	return false
}

// redactRecord deep-copies the record, masking digits in any embedded
// document-number field.
func redactRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = redactValue(k, v)
	}
	return out
}

func redactValue(key string, v any) any {
	switch val := v.(type) {
	case string:
		if isDocumentField(key) {
			return maskDigits(val)
		}
		return val
	case map[string]any:
		return redactRecord(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(key, item)
		}
		return out
	default:
		return v
	}
}

// maskDigits replaces every digit except the trailing four with '*',
// preserving punctuation: "123.456.789-09" becomes "***.***.*89-09".
func maskDigits(s string) string {
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits <= 4 {
		return s
	}

	toMask := digits - 4
	out := []rune(s)
	for i, r := range out {
		if r >= '0' && r <= '9' && toMask > 0 {
			out[i] = '*'
			toMask--
		}
	}
	return string(out)
}
