// Package records is the dispatch log: the Record model, the Repository
// capability shared by the key-value and GitHub backends, the Service
// that assigns ids and timestamps, and the CSV export.
package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
)

// JSON names of the record fields
const (
	FieldID         = "id"
	FieldTs         = "ts"
	FieldTechnician = "tecnico"
	FieldMaterial   = "material"
	FieldQuantity   = "cantidad"
	FieldPO         = "po"
	FieldComments   = "comentarios"
)

// Record is one dispatch log entry.
//
// Known fields are typed. Any other field sent by the client is kept in
// Extra, as is a known field whose value has an unexpected type, so nothing
// the client sent is lost on a round trip.
// Empty strings and zero values are omitted from JSON.
type Record struct {
	ID string
	// time in utc unix milliseconds
	Ts         int64
	Technician string
	Material   string
	// kept as written by the client, e.g. 5 or 2.5
	Quantity json.Number
	PO       string
	Comments string

	Extra map[string]any
}

var errNotObject = errors.New("record must be a JSON object")

// setString doesn't take "", which then ends up in Extra so that an empty
// field sent by the client is still there after a round trip
func setString(dst *string, v any) bool {
	s, ok := v.(string)
	if ok && s != "" {
		*dst = s
		return true
	}
	return false
}

func (r *Record) setField(name string, v any) bool {
	switch name {
	case FieldID:
		return setString(&r.ID, v)
	case FieldTs:
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		ts, err := n.Int64()
		if err != nil {
			return false
		}
		r.Ts = ts
		return true
	case FieldTechnician:
		return setString(&r.Technician, v)
	case FieldMaterial:
		return setString(&r.Material, v)
	case FieldQuantity:
		n, ok := v.(json.Number)
		if ok {
			r.Quantity = n
		}
		return ok
	case FieldPO:
		return setString(&r.PO, v)
	case FieldComments:
		return setString(&r.Comments, v)
	}
	return false
}

func (r *Record) UnmarshalJSON(d []byte) error {
	dec := json.NewDecoder(bytes.NewReader(d))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	if m == nil {
		return errNotObject
	}
	*r = Record{}
	for k, v := range m {
		if r.setField(k, v) {
			continue
		}
		if r.Extra == nil {
			r.Extra = map[string]any{}
		}
		r.Extra[k] = v
	}
	return nil
}

// Map returns the record as a JSON object
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.Extra)+7)
	for k, v := range r.Extra {
		m[k] = v
	}
	setIf := func(k string, v string) {
		if v != "" {
			m[k] = v
		}
	}
	setIf(FieldID, r.ID)
	if r.Ts != 0 {
		m[FieldTs] = r.Ts
	}
	setIf(FieldTechnician, r.Technician)
	setIf(FieldMaterial, r.Material)
	if r.Quantity != "" {
		m[FieldQuantity] = r.Quantity
	}
	setIf(FieldPO, r.PO)
	setIf(FieldComments, r.Comments)
	return m
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// Value returns a field formatted as text, "" if the field is absent
func (r *Record) Value(name string) string {
	switch name {
	case FieldID:
		if r.ID != "" {
			return r.ID
		}
	case FieldTs:
		if r.Ts != 0 {
			return strconv.FormatInt(r.Ts, 10)
		}
	case FieldTechnician:
		if r.Technician != "" {
			return r.Technician
		}
	case FieldMaterial:
		if r.Material != "" {
			return r.Material
		}
	case FieldQuantity:
		if r.Quantity != "" {
			return r.Quantity.String()
		}
	case FieldPO:
		if r.PO != "" {
			return r.PO
		}
	case FieldComments:
		if r.Comments != "" {
			return r.Comments
		}
	}
	return formatAny(r.Extra[name])
}

func formatAny(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	d, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(d)
}

// Clone returns a copy that doesn't share Extra with r
func (r *Record) Clone() *Record {
	res := *r
	if r.Extra != nil {
		res.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			res.Extra[k] = v
		}
	}
	return &res
}

// DecodePayload parses a client-supplied record. Blank input is an empty
// record.
func DecodePayload(d []byte) (*Record, error) {
	if len(bytes.TrimSpace(d)) == 0 {
		return &Record{}, nil
	}
	var rec Record
	if err := json.Unmarshal(d, &rec); err != nil {
		return nil, &ValidationError{Msg: "invalid JSON body: " + err.Error()}
	}
	return &rec, nil
}

// SortNewestFirst sorts by Ts descending keeping the order of equal Ts
func SortNewestFirst(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Ts > recs[j].Ts
	})
}
