package indygo

import "strconv"

// dig walks a nested structure of maps and slices decoded from JSON. String
// path elements index maps, int path elements index slices. Any miss (wrong
// type, absent key, index out of range) returns nil instead of panicking —
// the scraped vendor data only offers positional access in places, and this
// keeps that fragility in one spot.
func dig(v interface{}, path ...interface{}) interface{} {
	for _, p := range path {
		switch key := p.(type) {
		case string:
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil
			}
			v = m[key]
		case int:
			s, ok := v.([]interface{})
			if !ok || key < 0 || key >= len(s) {
				return nil
			}
			v = s[key]
		default:
			return nil
		}
		if v == nil {
			return nil
		}
	}
	return v
}

// stringID renders a JSON id field as a string. The portal sends ids as
// numbers on some pages and strings on others.
func stringID(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

// digString returns the string at path, or "" when absent or not a string.
func digString(v interface{}, path ...interface{}) string {
	s, _ := dig(v, path...).(string)
	return s
}

// digNumber returns the float64 at path. JSON numbers always decode to
// float64 through encoding/json.
func digNumber(v interface{}, path ...interface{}) (float64, bool) {
	n, ok := dig(v, path...).(float64)
	return n, ok
}
