package inquisitor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPlans reads plans from a YAML file holding either one plan or a list.
func LoadPlans(path string) ([]Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans: %w", err)
	}
	return ParsePlans(data)
}

// ParsePlans decodes one plan or a list of plans. Unknown fields are
// rejected so a misspelled key cannot silently pass a check.
func ParsePlans(data []byte) ([]Plan, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, errors.New("parse plans: empty document")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var plans []Plan
	switch node.Content[0].Kind {
	case yaml.SequenceNode:
		err = dec.Decode(&plans)
	case yaml.MappingNode:
		var p Plan
		err = dec.Decode(&p)
		plans = []Plan{p}
	default:
		return nil, errors.New("parse plans: expected a plan or a list of plans")
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	for i, p := range plans {
		if p.Name == "" {
			return nil, fmt.Errorf("parse plans: plan %d has no name", i)
		}
	}
	return plans, nil
}
