package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobResult is the terminal outcome of a job, reported exactly once.
// ItemResult always references a displayable image, even when Status is false.
type JobResult struct {
	Job    Job
	Status bool
	Item   ItemResult
	Err    string
}

// ItemResult holds the artifact references of a finished job.
type ItemResult struct {
	Full      string       `json:"full"`
	Thumbnail string       `json:"thumbnail"`
	HTML      string       `json:"html"`
	MHTML     string       `json:"mhtml,omitempty"`
	JSConsole string       `json:"jsConsole,omitempty"`
	Data      any          `json:"data"` // Data on success, an "Error: ..." string on failure
	LogData   string       `json:"log_data"`
	Error     *ResultError `json:"error,omitempty"`

	// Local is set instead of the URIs above for jobs run in local mode.
	Local *LocalArtifacts `json:"-"`
}

// ResultError carries the human readable reason of a terminal failure.
type ResultError struct {
	Message string `json:"message"`
}

// Data is the measurement payload attached to a successful result.
type Data struct {
	PageArea    int          `json:"pageArea"`
	AuthError   string       `json:"auth_error,omitempty"`
	StageErrors []StageError `json:"stage_errors,omitempty"`
}

// LocalArtifacts lists the files written for a local job.
type LocalArtifacts struct {
	Screenshot string       `json:"screenshot"`
	HTML       string       `json:"html"`
	MHTML      string       `json:"mhtml"`
	JSConsole  string       `json:"jsConsole"`
	Error      *ResultError `json:"error,omitempty"`
}

// ConsoleMessage is one entry of the in-page console log.
type ConsoleMessage struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Location ConsoleLocation `json:"location"`
}

// ConsoleLocation points at the script position that produced a console entry.
type ConsoleLocation struct {
	URL          string `json:"url,omitempty"`
	LineNumber   int64  `json:"lineNumber,omitempty"`
	ColumnNumber int64  `json:"columnNumber,omitempty"`
}

// Cookie is a cookie to be set in the browser before navigation.
type Cookie struct {
	Name    string
	Value   string
	Domain  string
	Path    string
	Expires time.Time
}

// Rect is a document-relative box in CSS pixels.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// MarshalJSON encodes the result as the job envelope extended with the
// outcome fields, which is what the coordinator reads from the results queue.
func (r JobResult) MarshalJSON() ([]byte, error) {
	env, err := r.Job.envelope()
	if err != nil {
		return nil, fmt.Errorf("build result envelope: %w", err)
	}

	if err := setField(env, "status", r.Status); err != nil {
		return nil, err
	}
	if err := setField(env, "item_result", r.Item); err != nil {
		return nil, err
	}
	if r.Err != "" {
		if err := setField(env, "err", r.Err); err != nil {
			return nil, err
		}
	}

	return json.Marshal(env)
}
