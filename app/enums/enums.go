// Package enums provides type-safe enumeration types shared by jobs, storage and the web layer.
//
// Each enum is a struct with a name and an ordinal value. Values are comparable with ==,
// render with String, parse with ParseX, and implement text and database marshaling
// so they can be stored as plain strings.
package enums

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// JobStatus is the lifecycle state of a report job. Ordinal values follow the lifecycle order.
type JobStatus struct {
	name  string
	value int
}

// job statuses in lifecycle order
var (
	JobStatusQueued         = JobStatus{name: "queued", value: 0}
	JobStatusRunning        = JobStatus{name: "running", value: 1}
	JobStatusScrapingURLs   = JobStatus{name: "scraping_urls", value: 2}
	JobStatusFetchingCharts = JobStatus{name: "fetching_charts", value: 3}
	JobStatusGeneratingPDF  = JobStatus{name: "generating_pdf", value: 4}
	JobStatusCompleted      = JobStatus{name: "completed", value: 5}
	JobStatusStopped        = JobStatus{name: "stopped", value: 6}
	JobStatusFailed         = JobStatus{name: "failed", value: 7}
)

// JobStatusValues contains all job statuses in lifecycle order
var JobStatusValues = []JobStatus{
	JobStatusQueued, JobStatusRunning, JobStatusScrapingURLs, JobStatusFetchingCharts,
	JobStatusGeneratingPDF, JobStatusCompleted, JobStatusStopped, JobStatusFailed,
}

// String returns the wire name of the status
func (s JobStatus) String() string { return s.name }

// Index returns the ordinal of the status
func (s JobStatus) Index() int { return s.value }

// IsTerminal reports whether the status is final
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusStopped || s == JobStatusFailed
}

// HasReport reports whether a job in this status may hold a downloadable report
func (s JobStatus) HasReport() bool {
	return s == JobStatusCompleted || s == JobStatusStopped
}

// ParseJobStatus converts a name to JobStatus, case-insensitive
func ParseJobStatus(v string) (JobStatus, error) {
	for _, s := range JobStatusValues {
		if strings.EqualFold(s.name, v) {
			return s, nil
		}
	}
	return JobStatus{}, fmt.Errorf("invalid job status: %q", v)
}

// MustJobStatus is like ParseJobStatus but panics on unknown names
func MustJobStatus(v string) JobStatus {
	s, err := ParseJobStatus(v)
	if err != nil {
		panic(err)
	}
	return s
}

// MarshalText implements encoding.TextMarshaler
func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *JobStatus) UnmarshalText(text []byte) error {
	v, err := ParseJobStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value implements driver.Valuer
func (s JobStatus) Value() (driver.Value, error) {
	return s.name, nil
}

// Scan implements sql.Scanner
func (s *JobStatus) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*s = JobStatusQueued
		return nil
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	default:
		return fmt.Errorf("can't scan %T into JobStatus", value)
	}
}

// Capture selects how a chart image is taken from the chart page
type Capture struct {
	name  string
	value int
}

// capture modes
var (
	CaptureEmbedded   = Capture{name: "embedded", value: 0}
	CaptureScreenshot = Capture{name: "screenshot", value: 1}
)

// CaptureValues contains all capture modes
var CaptureValues = []Capture{CaptureEmbedded, CaptureScreenshot}

func (c Capture) String() string { return c.name }

// ParseCapture converts a name to Capture, empty name means embedded
func ParseCapture(v string) (Capture, error) {
	if v == "" {
		return CaptureEmbedded, nil
	}
	for _, c := range CaptureValues {
		if strings.EqualFold(c.name, v) {
			return c, nil
		}
	}
	return Capture{}, fmt.Errorf("invalid capture mode: %q", v)
}

// MarshalText implements encoding.TextMarshaler
func (c Capture) MarshalText() ([]byte, error) {
	return []byte(c.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Capture) UnmarshalText(text []byte) error {
	v, err := ParseCapture(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Engine selects the browser automation backend
type Engine struct {
	name  string
	value int
}

// browser engines
var (
	EngineChromedp   = Engine{name: "chromedp", value: 0}
	EnginePlaywright = Engine{name: "playwright", value: 1}
)

// EngineValues contains all engines
var EngineValues = []Engine{EngineChromedp, EnginePlaywright}

func (e Engine) String() string { return e.name }

// ParseEngine converts a name to Engine, empty name means chromedp
func ParseEngine(v string) (Engine, error) {
	if v == "" {
		return EngineChromedp, nil
	}
	for _, e := range EngineValues {
		if strings.EqualFold(e.name, v) {
			return e, nil
		}
	}
	return Engine{}, fmt.Errorf("invalid browser engine: %q", v)
}
