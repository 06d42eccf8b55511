package model

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// MaxBreakpoint is the widest viewport a job may ask for, in pixels.
const MaxBreakpoint = 10000

// Job represents one screenshot task: one URL rendered at one breakpoint.
//
// A Job is a value. Retrying produces a new Job through NextAttempt; the
// original is never mutated, so a body that was already leased stays intact.
type Job struct {
	ID          string
	Attempts    int
	URL         string
	URI         string
	BaseURL     string
	Breakpoint  int
	Args        Args
	BasicAuth   *BasicAuth
	MHTML       bool
	Local       bool
	TimeExecute int // seconds spent on previous attempts

	// raw keeps the body the job was decoded from, so fields owned by the
	// coordinator survive a requeue or a result round-trip untouched.
	raw json.RawMessage
}

// BasicAuth holds HTTP basic authentication credentials for the target site.
type BasicAuth struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// jobWire is the queue envelope of a job.
type jobWire struct {
	ID       flexString `json:"id,omitempty"`
	Attempts FlexInt    `json:"attempts"`
	Params   paramsWire `json:"params"`
}

type paramsWire struct {
	URL         string     `json:"url"`
	URI         string     `json:"uri,omitempty"`
	BaseURL     string     `json:"base_url,omitempty"`
	Breakpoint  FlexInt    `json:"breakpoint"`
	Args        Args       `json:"args"`
	BasicAuth   *BasicAuth `json:"basicAuth,omitempty"`
	MHTML       bool       `json:"mhtml,omitempty"`
	Local       bool       `json:"local,omitempty"`
	TimeExecute FlexInt    `json:"timeExecute,omitempty"`
}

// DecodeJob parses a queue message body or a local job file.
func DecodeJob(body []byte) (Job, error) {
	var w jobWire
	if err := json.Unmarshal(body, &w); err != nil {
		return Job{}, fmt.Errorf("%w: decode body: %v", ErrInvalidJob, err)
	}

	j := Job{
		ID:          string(w.ID),
		Attempts:    int(w.Attempts),
		URL:         w.Params.URL,
		URI:         w.Params.URI,
		BaseURL:     w.Params.BaseURL,
		Breakpoint:  int(w.Params.Breakpoint),
		Args:        w.Params.Args,
		BasicAuth:   w.Params.BasicAuth,
		MHTML:       w.Params.MHTML,
		Local:       w.Params.Local,
		TimeExecute: int(w.Params.TimeExecute),
		raw:         append(json.RawMessage(nil), body...),
	}

	return j, nil
}

// Validate reports whether the job has the fields required to render it.
// A failure here is a configuration error and is never retried.
func (j Job) Validate() error {
	if j.URL == "" || j.Breakpoint <= 0 {
		return fmt.Errorf("%w: cannot find url or breakpoint options", ErrInvalidJob)
	}

	if j.Breakpoint > MaxBreakpoint {
		return fmt.Errorf("%w: breakpoint %d exceeds %d", ErrInvalidJob, j.Breakpoint, MaxBreakpoint)
	}

	u, err := url.Parse(j.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: malformed url %q", ErrInvalidJob, j.URL)
	}

	return nil
}

// CanRetry reports whether another attempt is allowed under maxAttempts.
func (j Job) CanRetry(maxAttempts int) bool {
	return j.Attempts < maxAttempts
}

// NextAttempt returns a copy of the job with the attempt counter incremented.
func (j Job) NextAttempt() Job {
	next := j
	next.Attempts = j.Attempts + 1
	return next
}

// WithLocal returns a copy of the job flagged for local artifact output.
func (j Job) WithLocal(local bool) Job {
	next := j
	next.Local = local
	return next
}

// WithTimeExecute returns a copy of the job with seconds added to its
// accumulated execution time.
func (j Job) WithTimeExecute(seconds int) Job {
	next := j
	next.TimeExecute = j.TimeExecute + seconds
	return next
}

// Key identifies the job in logs.
func (j Job) Key() string {
	return strconv.Itoa(j.Breakpoint) + ":" + j.URL
}

// MarshalJSON encodes the job in its queue envelope. When the job was decoded
// from a body, unknown fields of that body are carried over as they were.
func (j Job) MarshalJSON() ([]byte, error) {
	env, err := j.envelope()
	if err != nil {
		return nil, err
	}

	return json.Marshal(env)
}

// UnmarshalJSON implements json.Unmarshaler via DecodeJob.
func (j *Job) UnmarshalJSON(b []byte) error {
	decoded, err := DecodeJob(b)
	if err != nil {
		return err
	}

	*j = decoded
	return nil
}

// envelope builds the top-level field map of the job.
func (j Job) envelope() (map[string]json.RawMessage, error) {
	if len(j.raw) == 0 {
		w := jobWire{
			ID:       flexString(j.ID),
			Attempts: FlexInt(j.Attempts),
			Params: paramsWire{
				URL:         j.URL,
				URI:         j.URI,
				BaseURL:     j.BaseURL,
				Breakpoint:  FlexInt(j.Breakpoint),
				Args:        j.Args,
				BasicAuth:   j.BasicAuth,
				MHTML:       j.MHTML,
				Local:       j.Local,
				TimeExecute: FlexInt(j.TimeExecute),
			},
		}

		return toFieldMap(w)
	}

	env := map[string]json.RawMessage{}
	if err := json.Unmarshal(j.raw, &env); err != nil {
		return nil, fmt.Errorf("decode raw job: %w", err)
	}

	params := map[string]json.RawMessage{}
	if p, ok := env["params"]; ok {
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, fmt.Errorf("decode raw params: %w", err)
		}
	}

	// Only the fields the worker owns are rewritten.
	if err := setField(env, "attempts", j.Attempts); err != nil {
		return nil, err
	}
	if err := setField(params, "timeExecute", j.TimeExecute); err != nil {
		return nil, err
	}
	if j.Local {
		if err := setField(params, "local", true); err != nil {
			return nil, err
		}
	}
	if err := setField(env, "params", params); err != nil {
		return nil, err
	}

	return env, nil
}

func toFieldMap(v any) (map[string]json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal field map: %w", err)
	}

	return m, nil
}

func setField(m map[string]json.RawMessage, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	m[key] = b
	return nil
}

// FlexInt decodes an integer sent either as a JSON number or a numeric string.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", b, err)
	}

	if math.IsNaN(v) || v > math.MaxInt32 || v < math.MinInt32 {
		return fmt.Errorf("number %s out of range", b)
	}

	*f = FlexInt(v)
	return nil
}

// flexString decodes an identifier sent either as a string or a number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}

	*f = flexString(s)
	return nil
}
