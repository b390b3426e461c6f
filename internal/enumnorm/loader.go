package enumnorm

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTable reads an additional alias table from a YAML file of the form
// `raw: canonical`, merging it over DefaultAliases. Absent path or file
// returns DefaultAliases unchanged, matching the teacher's tolerance for
// optional configuration (internal/config/loader.go treats most environment
// overrides as optional).
func LoadTable(path string) (Table, error) {
	merged := make(Table, len(DefaultAliases))
	for k, v := range DefaultAliases {
		merged[k] = v
	}
	if path == "" {
		return merged, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return merged, nil
		}
		return nil, err
	}
	var overrides Table
	if err := yaml.Unmarshal(b, &overrides); err != nil {
		return nil, err
	}
	for k, v := range overrides {
		merged[normalize(k)] = v
	}
	return merged, nil
}
