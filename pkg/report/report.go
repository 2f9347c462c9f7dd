// Package report records the outcome of a migration run as JSON.
package report

import (
	"io"
	"os"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/xmppconv/pkg/converter"
	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

// ConverterReport is the outcome of one converter.
type ConverterReport struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Total      int64  `json:"total"`
	Stored     int64  `json:"stored"`
	Failed     int64  `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Report is the outcome of a run.
type Report struct {
	Version    string            `json:"version"`
	ServerType string            `json:"server_type"`
	Dialect    string            `json:"dialect"`
	PoolSize   int               `json:"pool_size"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Converters []ConverterReport `json:"converters"`
	Total      int64             `json:"total"`
	Failed     int64             `json:"failed"`
}

// New starts a report for a run beginning at started.
func New(version, serverType, dialect string, poolSize int, started time.Time) *Report {
	return &Report{
		Version:    version,
		ServerType: serverType,
		Dialect:    dialect,
		PoolSize:   poolSize,
		StartedAt:  started.UTC(),
		Converters: []ConverterReport{},
	}
}

// Add records converter outcomes and updates the totals.
func (r *Report) Add(stats ...converter.Stats) {
	for _, st := range stats {
		cr := ConverterReport{
			Name:       st.Name,
			State:      st.State.String(),
			Total:      st.Total,
			Stored:     st.Stored,
			Failed:     st.Failed,
			DurationMS: st.Duration.Milliseconds(),
		}
		if st.Err != nil {
			cr.Error = st.Err.Error()
		}
		r.Converters = append(r.Converters, cr)
		r.Total += st.Total
		r.Failed += st.Failed
	}
}

// Finish stamps the end of the run.
func (r *Report) Finish(at time.Time) {
	r.FinishedAt = at.UTC()
}

// Aborted returns the names of converters that did not complete.
func (r *Report) Aborted() []string {
	var names []string
	for _, c := range r.Converters {
		if c.State != converter.StateCompleted.String() {
			names = append(names, c.Name)
		}
	}
	return names
}

// Encode writes the report as indented JSON.
func (r *Report) Encode(w io.Writer) error {
	enc := gojson.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode report")
	}
	return nil
}

// Write saves the report to path, replacing any previous file.
func (r *Report) Write(path string) error {
	f, err := os.Create(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create report").WithDetail("path", path)
	}
	if err := r.Encode(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to close report").WithDetail("path", path)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read report").WithDetail("path", path)
	}
	r := &Report{}
	if err := gojson.Unmarshal(data, r); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode report").WithDetail("path", path)
	}
	return r, nil
}
