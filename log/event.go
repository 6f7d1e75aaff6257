package log

import (
	"bytes"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/kjk/despacho/httputil"
	"github.com/toon-format/toon-go"
)

// marshalEvent frames an event as:
//
//	--- <len(d)> <unix ms> <name>
//	<d>
//
// A newline is added after d if it doesn't end with one.
func marshalEvent(name string, t time.Time, d []byte) []byte {
	var wb bytes.Buffer
	wb.Grow(len(name) + len(d) + 48)
	wb.WriteString("--- ")
	wb.WriteString(strconv.Itoa(len(d)))
	wb.WriteByte(' ')
	wb.WriteString(strconv.FormatInt(t.UnixMilli(), 10))
	if name != "" {
		wb.WriteByte(' ')
		wb.WriteString(name)
	}
	wb.WriteByte('\n')
	if n := len(d); n > 0 {
		wb.Write(d)
		if d[n-1] != '\n' {
			wb.WriteByte('\n')
		}
	}
	return wb.Bytes()
}

// simpleTypeToStr converts simple types to string
// panics if v is of complex type
func simpleTypeToStr(v any) string {
	rt := reflect.TypeOf(v)
	panicIf(rt == nil, "event key is nil")
	kind := rt.Kind()
	switch kind {
	case reflect.Array, reflect.Slice, reflect.Struct, reflect.Map, reflect.Chan, reflect.Interface, reflect.Pointer:
		panic(fmt.Sprintf("toStr: value is of kind %v", kind))
	case reflect.String:
		return v.(string)
	}
	return fmt.Sprintf("%v", v)
}

func encodeEvent(name string, vals []any) []byte {
	n := len(vals)
	panicIf(n%2 != 0, "Event('%s'): odd number of values", name)
	var d []byte
	if n > 0 {
		m := map[string]any{}
		for i := 0; i < n; i += 2 {
			k := simpleTypeToStr(vals[i])
			m[k] = vals[i+1]
		}
		var err error
		d, err = toon.Marshal(m)
		if err != nil {
			d = []byte("error: " + err.Error())
		}
	}
	return marshalEvent(name, time.Now().UTC(), d)
}

// Event logs an event with key / value pairs encoded as toon
func Event(name string, vals ...any) {
	d := encodeEvent(name, vals)
	_ = eventsLog.Write(d)
	Verbosef("event %s", d)
}

func EventWithDuration(name string, dur time.Duration, vals ...any) {
	vals = append(vals, "durmicro", dur.Microseconds())
	Event(name, vals...)
}

func appendRequestValues(r *http.Request, vals []any) []any {
	if r == nil {
		return vals
	}
	return append(vals, "ip", httputil.GetBestRemoteAddress(r))
}

func EventFromRequest(r *http.Request, name string, vals ...any) {
	vals = appendRequestValues(r, vals)
	Event(name, vals...)
}

func ErrorEventFromRequest(r *http.Request, err error, name string, vals ...any) {
	vals = appendRequestValues(r, vals)
	vals = append(vals, "error", err.Error())
	Event(name, vals...)
}
