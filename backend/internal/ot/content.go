package ot

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindString Kind = "string"
	KindList   Kind = "list"
	KindMap    Kind = "map"
)

// Content is the closed set of document content representations. A
// document's kind is fixed at first write; operations against another kind
// are rejected at apply time.
type Content interface {
	Kind() Kind
	clone() Content
}

type StringContent string

type ListContent []any

type MapContent map[string]any

func (StringContent) Kind() Kind { return KindString }
func (ListContent) Kind() Kind   { return KindList }
func (MapContent) Kind() Kind    { return KindMap }

func (c StringContent) clone() Content { return c }

func (c ListContent) clone() Content {
	out := make(ListContent, len(c))
	copy(out, c)
	return out
}

func (c MapContent) clone() Content {
	out := make(MapContent, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// EmptyContent is the lazy default for a document that has never been
// written: "", [], or {} depending on the field's kind convention.
func EmptyContent(k Kind) Content {
	switch k {
	case KindList:
		return ListContent{}
	case KindMap:
		return MapContent{}
	default:
		return StringContent("")
	}
}

// DocumentState is the (content, version) pair the OT engine operates on.
type DocumentState struct {
	Content Content
	Version uint64
}

type stateEnvelope struct {
	Kind    Kind            `json:"kind"`
	Value   json.RawMessage `json:"value"`
	Version uint64          `json:"version"`
}

func (s DocumentState) MarshalJSON() ([]byte, error) {
	var value any
	if s.Content != nil {
		value = s.Content
	} else {
		value = StringContent("")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	kind := KindString
	if s.Content != nil {
		kind = s.Content.Kind()
	}
	return json.Marshal(stateEnvelope{Kind: kind, Value: raw, Version: s.Version})
}

func (s *DocumentState) UnmarshalJSON(b []byte) error {
	var env stateEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	content, err := decodeContent(env.Kind, env.Value)
	if err != nil {
		return err
	}
	s.Content = content
	s.Version = env.Version
	return nil
}

func decodeContent(k Kind, raw json.RawMessage) (Content, error) {
	switch k {
	case KindString:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return StringContent(v), nil
	case KindList:
		var v []any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return ListContent(v), nil
	case KindMap:
		var v map[string]any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return MapContent(v), nil
	default:
		return nil, fmt.Errorf("unknown content kind %q", k)
	}
}
