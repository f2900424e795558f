package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/d9705996/rollcall/internal/api/jsonapi"
)

// errTrailingData is returned when a body holds more than one JSON value.
var errTrailingData = errors.New("unexpected data after the JSON document")

// decodeJSON decodes exactly one JSON value from the request body into v.
// An empty body yields io.EOF.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

// fields is a flat request body of string members.
type fields map[string]string

// readFields decodes a flat JSON object of strings. An empty body is an
// empty object. A non-string member is reported as a type error naming it.
func readFields(r *http.Request) (fields, error) {
	raw := map[string]json.RawMessage{}
	if err := decodeJSON(r, &raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	f := make(fields, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				typeErr.Field = k
			}
			return nil, err
		}
		f[k] = s
	}
	return f, nil
}

// renderInvalidBody reports an undecodable body. A field of the wrong type
// is named in the error source.
func renderInvalidBody(w http.ResponseWriter, err error) {
	obj := jsonapi.ErrorObject{
		Status: http.StatusText(http.StatusBadRequest),
		Code:   "invalid_body",
		Title:  "Bad Request",
		Detail: "request body must be valid JSON",
	}
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		obj.Detail = fmt.Sprintf("%s must be a string, got %s", typeErr.Field, typeErr.Value)
		obj.Source = &jsonapi.ErrorSource{Pointer: "/" + typeErr.Field}
	case errors.Is(err, errTrailingData):
		obj.Detail = "request body must hold exactly one JSON object"
	}
	jsonapi.RenderErrors(w, http.StatusBadRequest, []jsonapi.ErrorObject{obj})
}
