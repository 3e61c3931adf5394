package kommo

import (
	"fmt"
	"strconv"
	"strings"
)

// StageMap resolves the assistant's stage labels to Kommo pipeline status ids.
type StageMap map[string]int64

// NewStageMap parses label to status id strings. Blank ids are skipped; a
// non-numeric id is an error so a bad deployment fails at startup.
func NewStageMap(raw map[string]string) (StageMap, error) {
	m := make(StageMap, len(raw))
	for label, value := range raw {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("kommo: invalid status id %q for stage %q", value, label)
		}
		m[strings.TrimSpace(label)] = id
	}
	return m, nil
}

// Lookup returns the status id for label. An exact match wins; otherwise the
// comparison ignores case and surrounding whitespace.
func (m StageMap) Lookup(label string) (int64, bool) {
	if len(m) == 0 {
		return 0, false
	}
	if id, ok := m[label]; ok {
		return id, true
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, false
	}
	for known, id := range m {
		if strings.EqualFold(known, label) {
			return id, true
		}
	}
	return 0, false
}
