package upstream

import (
	"encoding/json"
	"fmt"
)

// FragmentType represents the different kinds of response fragments the
// OpenCode backend streams. The set is closed: new kinds require an
// explicit mapping in the block engine to either a delta or a terminal
// transition.
type FragmentType string

const (
	TextDeltaFragmentType  FragmentType = "text_delta"
	ToolCallFragmentType   FragmentType = "tool_call"
	ToolResultFragmentType FragmentType = "tool_result"
	ErrorFragmentType      FragmentType = "error"
	EndFragmentType        FragmentType = "end"
)

// Fragment is one unit of an upstream response stream.
type Fragment interface {
	GetFragmentType() FragmentType
}

type TextDeltaFragment struct {
	FragmentType FragmentType `json:"type"`
	Text         string       `json:"text"`
}

func (f TextDeltaFragment) GetFragmentType() FragmentType {
	return f.FragmentType
}

var _ Fragment = TextDeltaFragment{}

type ToolCallFragment struct {
	FragmentType FragmentType    `json:"type"`
	CallId       string          `json:"callId"`
	Name         string          `json:"name"`
	Input        json.RawMessage `json:"input,omitempty"`
}

func (f ToolCallFragment) GetFragmentType() FragmentType {
	return f.FragmentType
}

var _ Fragment = ToolCallFragment{}

type ToolResultFragment struct {
	FragmentType FragmentType `json:"type"`
	CallId       string       `json:"callId"`
	Output       string       `json:"output"`
}

func (f ToolResultFragment) GetFragmentType() FragmentType {
	return f.FragmentType
}

var _ Fragment = ToolResultFragment{}

type ErrorFragment struct {
	FragmentType FragmentType `json:"type"`
	Message      string       `json:"message"`
}

func (f ErrorFragment) GetFragmentType() FragmentType {
	return f.FragmentType
}

var _ Fragment = ErrorFragment{}

type EndFragment struct {
	FragmentType FragmentType `json:"type"`
}

func (f EndFragment) GetFragmentType() FragmentType {
	return f.FragmentType
}

var _ Fragment = EndFragment{}

// UnmarshalFragment unmarshals a JSON byte slice into a Fragment based on
// the "type" field.
func UnmarshalFragment(data []byte) (Fragment, error) {
	var probe struct {
		FragmentType FragmentType `json:"type"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	switch probe.FragmentType {
	case TextDeltaFragmentType:
		var textDelta TextDeltaFragment
		if err := json.Unmarshal(data, &textDelta); err != nil {
			return nil, err
		}
		return textDelta, nil

	case ToolCallFragmentType:
		var toolCall ToolCallFragment
		if err := json.Unmarshal(data, &toolCall); err != nil {
			return nil, err
		}
		return toolCall, nil

	case ToolResultFragmentType:
		var toolResult ToolResultFragment
		if err := json.Unmarshal(data, &toolResult); err != nil {
			return nil, err
		}
		return toolResult, nil

	case ErrorFragmentType:
		var errorFragment ErrorFragment
		if err := json.Unmarshal(data, &errorFragment); err != nil {
			return nil, err
		}
		return errorFragment, nil

	case EndFragmentType:
		var end EndFragment
		if err := json.Unmarshal(data, &end); err != nil {
			return nil, err
		}
		return end, nil

	default:
		return nil, fmt.Errorf("unknown fragment type: %s", probe.FragmentType)
	}
}
