package whmapi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Dialect selects which server API family a request is addressed to.
type Dialect int

const (
	WHMv1 Dialect = iota
	UAPI
	API2
)

var dialectNames = map[Dialect]string{
	WHMv1: "whmv1",
	UAPI:  "uapi",
	API2:  "api2",
}

func (d Dialect) String() string {
	if s, ok := dialectNames[d]; ok {
		return s
	}
	return "unknown"
}

// authScheme is the Authorization header scheme for API tokens.
func (d Dialect) authScheme() string {
	if d == WHMv1 {
		return "whm"
	}
	return "cpanel"
}

// Request is one API call. Module is required for UAPI and API2 and
// ignored for WHM API 1.
type Request struct {
	Dialect Dialect
	Module  string
	Func    string
	Args    url.Values
}

// endpoint returns the path and form for the request.
func (r Request) endpoint(user string) (string, url.Values, error) {
	if r.Func == "" {
		return "", nil, fmt.Errorf("%s request without function name", r.Dialect)
	}
	form := url.Values{}
	for k, vs := range r.Args {
		form[k] = append([]string(nil), vs...)
	}

	switch r.Dialect {
	case WHMv1:
		form.Set("api.version", "1")
		return "/json-api/" + url.PathEscape(r.Func), form, nil
	case UAPI:
		if r.Module == "" {
			return "", nil, fmt.Errorf("uapi %s: module is required", r.Func)
		}
		return "/execute/" + url.PathEscape(r.Module) + "/" + url.PathEscape(r.Func), form, nil
	case API2:
		if r.Module == "" {
			return "", nil, fmt.Errorf("api2 %s: module is required", r.Func)
		}
		form.Set("cpanel_jsonapi_user", user)
		form.Set("cpanel_jsonapi_apiversion", "2")
		form.Set("cpanel_jsonapi_module", r.Module)
		form.Set("cpanel_jsonapi_func", r.Func)
		return "/json-api/cpanel", form, nil
	default:
		return "", nil, fmt.Errorf("unsupported dialect %d", int(r.Dialect))
	}
}

// Result is a response normalised across dialects. Status is the
// server's business verdict; a false Status comes with a Reason and
// usually Errors.
type Result struct {
	Status   bool            `json:"status"`
	Reason   string          `json:"reason,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Errors   []string        `json:"errors,omitempty"`
	Messages []string        `json:"messages,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Message is the text to show a user for a failed call.
func (r *Result) Message() string {
	if len(r.Errors) > 0 {
		return strings.Join(r.Errors, "\n")
	}
	if r.Reason != "" {
		return r.Reason
	}
	return "unknown error"
}

// Err returns an *APIError when the call failed, nil otherwise.
func (r *Result) Err() error {
	if r.Status {
		return nil
	}
	return &APIError{Reason: r.Reason, Errors: r.Errors}
}

// flexBool decodes 1/0, true/false and "1"/"0".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.TrimSpace(string(data)), `"`) {
	case "1", "true":
		*b = true
	case "0", "false", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// flexStrings decodes null, a single string or a list of strings.
type flexStrings []string

func (s *flexStrings) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one != "" {
			*s = []string{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

type whmEnvelope struct {
	Metadata struct {
		Result flexBool `json:"result"`
		Reason string   `json:"reason"`
		Output struct {
			Messages flexStrings `json:"messages"`
			Warnings flexStrings `json:"warnings"`
		} `json:"output"`
	} `json:"metadata"`
	Data json.RawMessage `json:"data"`
}

type uapiEnvelope struct {
	Status   flexBool        `json:"status"`
	Errors   flexStrings     `json:"errors"`
	Messages flexStrings     `json:"messages"`
	Warnings flexStrings     `json:"warnings"`
	Data     json.RawMessage `json:"data"`
}

type api2Envelope struct {
	Result struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
		Event struct {
			Result flexBool `json:"result"`
			Reason string   `json:"reason"`
		} `json:"event"`
	} `json:"cpanelresult"`
}

// decode normalises a response body of the given dialect.
func decode(d Dialect, body []byte) (*Result, error) {
	switch d {
	case WHMv1:
		var env whmEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode whm api 1 response: %w", err)
		}
		res := &Result{
			Status:   bool(env.Metadata.Result),
			Reason:   env.Metadata.Reason,
			Data:     env.Data,
			Messages: env.Metadata.Output.Messages,
			Warnings: env.Metadata.Output.Warnings,
		}
		if !res.Status && res.Reason != "" {
			res.Errors = []string{res.Reason}
		}
		return res, nil

	case UAPI:
		var env uapiEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode uapi response: %w", err)
		}
		res := &Result{
			Status:   bool(env.Status),
			Data:     env.Data,
			Errors:   env.Errors,
			Messages: env.Messages,
			Warnings: env.Warnings,
		}
		if len(res.Errors) > 0 {
			res.Reason = res.Errors[0]
		} else if res.Status {
			res.Reason = "OK"
		}
		return res, nil

	case API2:
		var env api2Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode api2 response: %w", err)
		}
		res := &Result{
			Status: bool(env.Result.Event.Result) && env.Result.Error == "",
			Reason: env.Result.Event.Reason,
			Data:   env.Result.Data,
		}
		if env.Result.Error != "" {
			res.Errors = []string{env.Result.Error}
			if res.Reason == "" {
				res.Reason = env.Result.Error
			}
		}
		return res, nil
	}
	return nil, fmt.Errorf("unsupported dialect %d", int(d))
}
