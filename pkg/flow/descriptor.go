package flow

import (
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Descriptor is the raw, uncompiled form of a pipeline.
type Descriptor struct {
	// Name labels the pipeline in logs, metrics and spans. Sub-pipelines
	// take their table key when Name is empty.
	Name     string                 `yaml:"name,omitempty"`
	InParams []string               `yaml:"inParams"`
	Tasks    []TaskDef              `yaml:"tasks"`
	OutTask  OutDef                 `yaml:"outTask"`
	Sub      map[string]*Descriptor `yaml:"sub,omitempty"`
}

// TaskDef describes one task. A nil A or Out counts as missing; an empty
// Out discards the task's result.
type TaskDef struct {
	F     any      `yaml:"f"`
	A     []string `yaml:"a"`
	Out   []string `yaml:"out"`
	Type  string   `yaml:"type,omitempty"`
	ArrIn string   `yaml:"arrIn,omitempty"`

	// ElemType is the calling convention of each fan-out element when F
	// is a function. It defaults to "cb".
	ElemType string `yaml:"elemType,omitempty"`

	// Name overrides the label derived from F.
	Name string `yaml:"name,omitempty"`
}

// OutDef names the variables returned by an invocation.
type OutDef struct {
	A []string `yaml:"a"`
}

// Task type tags.
const (
	TypeDirect   = "direct"
	TypeRet      = "ret"
	TypePromise  = "promise"
	TypeCallback = "cb"
	TypeArrayMap = "arrayMap"
)

// ParseDescriptor decodes a YAML or JSON document. String f values are
// resolved later, at compile time, against the engine's Registry.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("flow: decode descriptor: %w", err)
	}
	return &d, nil
}

func (td TaskDef) String() string {
	var b strings.Builder
	b.WriteString("{f: ")
	switch f := td.F.(type) {
	case nil:
		b.WriteString("<missing>")
	case string:
		fmt.Fprintf(&b, "%q", f)
	default:
		if rv := reflect.ValueOf(f); rv.Kind() == reflect.Func {
			b.WriteString(funcName(rv))
		} else {
			fmt.Fprintf(&b, "%v", f)
		}
	}
	fmt.Fprintf(&b, ", a: %s, out: %s", listString(td.A), listString(td.Out))
	if td.Type != "" {
		fmt.Fprintf(&b, ", type: %s", td.Type)
	}
	if td.ArrIn != "" {
		fmt.Fprintf(&b, ", arrIn: %s", td.ArrIn)
	}
	b.WriteString("}")
	return b.String()
}

func listString(names []string) string {
	if names == nil {
		return "<missing>"
	}
	return "[" + strings.Join(names, ",") + "]"
}
