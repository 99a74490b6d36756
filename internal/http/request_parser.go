package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"expenses/internal/core"
	"expenses/internal/services"
)

const (
	maxBodyBytes  = 1 << 20
	maxFormMemory = 1 << 20
)

var numberType = reflect.TypeOf(json.Number(""))

func violations(vs ...core.Violation) error {
	return &core.ValidationError{Violations: vs}
}

// decodeJSON reads a JSON request body into dst. Malformed bodies are
// reported with the same shape as field validation failures.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return bodyError(err)
	}
	return nil
}

func bodyError(err error) error {
	var (
		typeErr *json.UnmarshalTypeError
		maxErr  *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return violations(core.Violation{Loc: []string{"body"}, Msg: "Field required", Type: "missing"})
	case errors.Is(err, core.ErrInvalidDate):
		return violations(core.BodyViolation("date", "Input should be a valid date", "date_from_datetime_parsing"))
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			return violations(core.Violation{Loc: []string{"body"}, Msg: "Input should be a valid dictionary", Type: "dict_type"})
		}
		return violations(typeViolation(field, typeErr.Type))
	case errors.As(err, &maxErr):
		return violations(core.Violation{Loc: []string{"body"}, Msg: "Request body too large", Type: "value_error"})
	default:
		return violations(core.Violation{Loc: []string{"body"}, Msg: "JSON decode error", Type: "json_invalid"})
	}
}

func typeViolation(field string, t reflect.Type) core.Violation {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t == numberType:
		return core.BodyViolation(field, "Input should be a valid number", "float_type")
	case t.Kind() == reflect.String:
		return core.BodyViolation(field, "Input should be a valid string", "string_type")
	case t.Kind() >= reflect.Int && t.Kind() <= reflect.Int64:
		return core.BodyViolation(field, "Input should be a valid integer", "int_type")
	default:
		return core.BodyViolation(field, "Input should be a valid "+t.Kind().String(), "value_error")
	}
}

// parseLoginForm reads username and password from an urlencoded or
// multipart body.
func parseLoginForm(r *http.Request) (username, password string, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(maxFormMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return "", "", violations(core.Violation{Loc: []string{"body"}, Msg: "Invalid form body", Type: "value_error"})
	}

	username = r.PostFormValue("username")
	password = r.PostFormValue("password")

	var missing []core.Violation
	if username == "" {
		missing = append(missing, core.BodyViolation("username", "Field required", "missing"))
	}
	if password == "" {
		missing = append(missing, core.BodyViolation("password", "Field required", "missing"))
	}
	if len(missing) > 0 {
		return "", "", violations(missing...)
	}
	return username, password, nil
}

// parseListFilter reads from_date, to_date and period. start_date and
// end_date are accepted as aliases of the date bounds.
func parseListFilter(q url.Values) (services.ListFilter, error) {
	var (
		f    services.ListFilter
		errs []core.Violation
	)

	from, v := queryDate(q, "from_date", "start_date")
	if v != nil {
		errs = append(errs, *v)
	}
	to, v := queryDate(q, "to_date", "end_date")
	if v != nil {
		errs = append(errs, *v)
	}
	if len(errs) > 0 {
		return f, violations(errs...)
	}

	f.From = from
	f.To = to
	f.Period = strings.TrimSpace(q.Get("period"))
	return f, nil
}

func queryDate(q url.Values, names ...string) (*core.Date, *core.Violation) {
	for _, name := range names {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		d, err := core.ParseDate(raw)
		if err != nil {
			return nil, &core.Violation{
				Loc:  []string{"query", name},
				Msg:  "Input should be a valid date in the format YYYY-MM-DD",
				Type: "date_from_datetime_parsing",
			}
		}
		return &d, nil
	}
	return nil, nil
}

// expenseID reads the {id} path parameter.
func expenseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, violations(core.Violation{
			Loc:  []string{"path", "id"},
			Msg:  "Input should be a valid integer, unable to parse string as an integer",
			Type: "int_parsing",
		})
	}
	return id, nil
}
