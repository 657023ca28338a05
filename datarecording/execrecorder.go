package datarecording

import (
	"os"
	"strings"
	"time"

	"github.com/rs/xid"
)

// RunTableName is the table that describes each run.
const RunTableName = "run_info"

const timeLayout = "2006-01-02 15:04:05.000000000"

// RunInfo is one property of a run.
type RunInfo struct {
	RunID    string
	Property string
	Value    string
}

// A RunRecorder records when and how a run happened.
type RunRecorder struct {
	runID    string
	recorder DataRecorder
	entries  []RunInfo
}

// NewRunRecorder creates the run table on the recorder and gives the run a
// unique ID.
func NewRunRecorder(recorder DataRecorder) (*RunRecorder, error) {
	if err := recorder.CreateTable(RunTableName, RunInfo{}); err != nil {
		return nil, err
	}

	return &RunRecorder{
		runID:    xid.New().String(),
		recorder: recorder,
	}, nil
}

// RunID returns the ID of the run.
func (r *RunRecorder) RunID() string {
	return r.runID
}

// Set adds a property of the run.
func (r *RunRecorder) Set(property, value string) {
	r.entries = append(r.entries, RunInfo{r.runID, property, value})
}

// Start records the start time, the command line and the working directory.
func (r *RunRecorder) Start(scenario string) {
	r.Set("Scenario", scenario)
	r.Set("Start Time", time.Now().Format(timeLayout))
	r.Set("Command", strings.Join(os.Args, " "))

	if cwd, err := os.Getwd(); err == nil {
		r.Set("Working Directory", cwd)
	}
}

// End records the end time and the elapsed times, then writes all the
// properties and flushes the recorder.
func (r *RunRecorder) End(realMs, simMs float64) error {
	r.Set("End Time", time.Now().Format(timeLayout))
	r.Set("Real Time (ms)", formatFloat(realMs))
	r.Set("Simulated Time (ms)", formatFloat(simMs))

	for _, entry := range r.entries {
		if err := r.recorder.InsertData(RunTableName, entry); err != nil {
			return err
		}
	}

	r.entries = nil

	return r.recorder.Flush()
}
