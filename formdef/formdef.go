// Package formdef reads form definitions from YAML:
//
//	id: survey
//	elements:
//	  - {name: name, type: string}
//	  - name: items
//	    type: repeat
//	    children:
//	      - {name: label, type: string}
package formdef

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/andreyvit/formstore"
	"github.com/andreyvit/formstore/submission"
)

type Definition struct {
	ID       string     `yaml:"id"`
	Elements []*Element `yaml:"elements"`
}

type Element struct {
	Name     string     `yaml:"name"`
	Type     string     `yaml:"type"`
	Legacy   bool       `yaml:"legacy,omitempty"`
	Children []*Element `yaml:"children,omitempty"`
}

// Parse decodes a definition and compiles it. Unknown keys are rejected.
func Parse(data []byte) (*submission.Form, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty form definition", formstore.ErrInvalidSchema)
		}
		return nil, &formstore.ParseError{What: "form definition", Err: fmt.Errorf("%w: %v", formstore.ErrInvalidSchema, err)}
	}
	return def.Compile()
}

func Load(path string) (*submission.Form, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	form, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return form, nil
}

func (def *Definition) Compile() (*submission.Form, error) {
	children, err := convert(def.Elements)
	if err != nil {
		return nil, fmt.Errorf("form %s: %w", def.ID, err)
	}
	return submission.NewForm(def.ID, children...)
}

func convert(elems []*Element) ([]*submission.FormElement, error) {
	var result []*submission.FormElement
	for _, e := range elems {
		if e == nil {
			continue
		}
		typ, err := submission.ParseElementType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		children, err := convert(e.Children)
		if err != nil {
			return nil, fmt.Errorf("%s/%w", e.Name, err)
		}
		if len(children) > 0 && typ != submission.TypeGroup && typ != submission.TypeRepeat {
			return nil, fmt.Errorf("%w: %s: %v element cannot have children", formstore.ErrInvalidSchema, e.Name, typ)
		}
		result = append(result, &submission.FormElement{
			Name:     e.Name,
			Type:     typ,
			Legacy:   e.Legacy,
			Children: children,
		})
	}
	return result, nil
}

// FromForm produces the definition of a compiled form.
func FromForm(form *submission.Form) *Definition {
	return &Definition{ID: form.ID, Elements: fromElements(form.Root.Children)}
}

func fromElements(elems []*submission.FormElement) []*Element {
	var result []*Element
	for _, e := range elems {
		result = append(result, &Element{
			Name:     e.Name,
			Type:     e.Type.String(),
			Legacy:   e.Legacy,
			Children: fromElements(e.Children),
		})
	}
	return result
}

func (def *Definition) Marshal() ([]byte, error) {
	return yaml.Marshal(def)
}
