package model

import "encoding/json"

var knownCaseKeys = []string{"id", "category", "title", "description", "symptoms", "gold_case"}

// UnmarshalJSON decodes the fixed case fields and keeps everything else in Extra.
func (c *Case) UnmarshalJSON(data []byte) error {
	type plain Case
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownCaseKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}
	*c = Case(p)
	return nil
}

// MarshalJSON writes the fixed fields followed by any extra catalog fields.
func (c Case) MarshalJSON() ([]byte, error) {
	type plain Case
	base, err := json.Marshal(plain(c))
	if err != nil || len(c.Extra) == 0 {
		return base, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}
