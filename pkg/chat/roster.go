package chat

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Roster is the file form of a StaticClient:
//
//	groups:
//	  "100200300":
//	    "123456": bob
type Roster struct {
	Groups map[string]map[string]string `yaml:"groups"`
}

// LoadRoster reads a roster file into a StaticClient. An empty path yields
// an empty roster.
func LoadRoster(path string) (*StaticClient, error) {
	c := NewStaticClient()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse roster %s: %w", path, err)
	}
	for group, members := range r.Groups {
		for subject, name := range members {
			c.AddMember(group, subject, name)
		}
	}
	return c, nil
}
