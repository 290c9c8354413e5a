package planner

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/photoseq/internal/model"
)

// WriteTimeline writes a timeline to a YAML file
func WriteTimeline(tl model.Timeline, path string) error {
	data, err := yaml.Marshal(tl)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReadTimeline reads a timeline from a YAML file
func ReadTimeline(path string) (model.Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Timeline{}, err
	}

	var tl model.Timeline
	if err := yaml.Unmarshal(data, &tl); err != nil {
		return model.Timeline{}, err
	}

	return tl, nil
}
