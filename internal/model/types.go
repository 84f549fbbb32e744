// Package model holds the domain types shared across the print server:
// labels, requests, jobs, and the cached printer record. None of these
// types own any concurrency primitives; they are plain data, copied or
// referenced by the components that do (queue, registry, dispatcher).
package model

import "time"

// Priority ranks a PrintRequest for queue ordering. Higher ranks preempt
// lower ones at admission-to-processing time.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank returns the numeric ordering weight for the priority, high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 2 // unknown priorities sort as medium
	}
}

// MediaClass classifies the physical label stock.
type MediaClass string

const (
	MediaWristband MediaClass = "Wristband"
	MediaLabel     MediaClass = "Label"
)

// Orientation is the page orientation requested for a label.
type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

// Margins are length strings in the renderer's own dialect (e.g. "0.25in",
// "6mm"); this repo never parses or converts them, only forwards them.
type Margins struct {
	Top    string
	Right  string
	Bottom string
	Left   string
}

// PrintLabel is the unit of work: one label to render and print. All
// fields are immutable once the label is admitted to a PrintJob.
type PrintLabel struct {
	PrinterName string
	HTML        []byte // decoded HTML body
	Width       string
	Height      string
	Margins     Margins
	Orientation Orientation // optional; "" means renderer default (portrait)
	Copies      int         // 1..10
	UserID      int64
	Name        string
	Media       MediaClass
	Group       string // optional grouping tag ("mpGroup")
}

// PrintRequest is a single-label scheduler envelope's payload. Batches are
// exploded into one PrintRequest per label at admission (§3), so a
// PrintRequest always carries exactly one label.
type PrintRequest struct {
	ID          string
	Label       PrintLabel
	Priority    Priority
	AdmittedAt  time.Time
	AdmittedSeq int64 // monotonic tiebreaker within identical AdmittedAt
	RetryCount  int
}

// JobState is a PrintJob's lifecycle stage.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// PrintJob is the scheduler envelope around one PrintRequest.
type PrintJob struct {
	ID        string
	State     JobState
	Request   PrintRequest
	StartTime time.Time
	EndTime   time.Time
	LastError string
}

// PrinterStatus is the Printer Registry's view of a printer's reachability.
type PrinterStatus string

const (
	PrinterOnline  PrinterStatus = "online"
	PrinterOffline PrinterStatus = "offline"
	PrinterBusy    PrinterStatus = "busy"
	PrinterError   PrinterStatus = "error"
)

// PrinterRecord is the Printer Registry's cached view of one printer.
type PrinterRecord struct {
	Name                string
	Port                string
	Driver              string
	Status              PrinterStatus
	InFlightJobs        int
	LastSuccessAt       time.Time
	ConsecutiveFailures int
	LastErrorAt         time.Time
	CachedAt            time.Time
}

// Clone returns a value copy suitable for handing to a caller without
// sharing registry-internal mutable state.
func (r PrinterRecord) Clone() PrinterRecord { return r }

// StatusFromCode maps the OS enumeration contract's PrinterStatus integer
// (§6 "OS enumeration contract") to a PrinterStatus: 0 online, 1 offline,
// 2 error, anything else offline.
func StatusFromCode(code int) PrinterStatus {
	switch code {
	case 0:
		return PrinterOnline
	case 1:
		return PrinterOffline
	case 2:
		return PrinterError
	default:
		return PrinterOffline
	}
}
