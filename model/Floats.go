package model

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Floats is a whitespace separated list of numbers in an XML attribute
type Floats []float64

// MarshalXMLAttr implements the xml.MarshalerAttr interface
func (f Floats) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	parts := make([]string, len(f))
	for i, v := range f {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return xml.Attr{Name: name, Value: strings.Join(parts, " ")}, nil
}

// UnmarshalXMLAttr implements the xml.UnmarshalerAttr interface
func (f *Floats) UnmarshalXMLAttr(attr xml.Attr) error {
	fields := strings.Fields(attr.Value)
	values := make(Floats, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return fmt.Errorf("attribute %v: %v", attr.Name.Local, err)
		}
		values[i] = v
	}
	*f = values
	return nil
}

// At returns the value at index i, or def if the list is too short
func (f Floats) At(i int, def float64) float64 {
	if i < len(f) {
		return f[i]
	}
	return def
}
