package seed

import (
	"context"
	"fmt"
	"os"

	"github.com/agentworkforce/relaycollab/internal/collab"
	"gopkg.in/yaml.v3"
)

// YAMLSource serves seeds from a YAML mapping of room id to text, read once
// at construction.
type YAMLSource struct {
	texts map[string]string
}

func NewYAMLSource(path string) (*YAMLSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseYAMLSource(data)
}

func parseYAMLSource(data []byte) (*YAMLSource, error) {
	texts := map[string]string{}
	if err := yaml.Unmarshal(data, &texts); err != nil {
		return nil, fmt.Errorf("parse yaml seeds: %w", err)
	}
	for room := range texts {
		if err := collab.ValidateRoomID(room); err != nil {
			return nil, fmt.Errorf("yaml seeds: room %q: %w", room, err)
		}
	}
	return &YAMLSource{texts: texts}, nil
}

func (s *YAMLSource) Load(_ context.Context, room string) (string, bool, error) {
	if err := collab.ValidateRoomID(room); err != nil {
		return "", false, err
	}
	text, ok := s.texts[room]
	return text, ok, nil
}

func (s *YAMLSource) Close() error {
	return nil
}
