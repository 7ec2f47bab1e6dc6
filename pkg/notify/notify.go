// Package notify reports download progress and outcomes to the user.
//
// Two strategies share the Notifier interface: Alert prints blocking-alert
// style text blocks, Modal renders the HTML for an in-page overlay.
package notify

import (
	"fmt"
	"io"
	"sync"
)

// InstallSteps are shown after a successful download.
var InstallSteps = []string{
	"Click the downloaded file",
	`Click "Keep" if Chrome warns`,
	`Click "Install extension"`,
	`Click "Add extension"`,
}

const InstallWarning = "Chrome warnings are normal for custom extensions."

// Notice is one message shown to the user.
type Notice struct {
	Title   string
	Message string
	Steps   []string // numbered instructions, optional
	Link    string   // URL offered for download, optional
	File    string   // saved path or suggested filename, optional
}

// Notifier surfaces the stages of a download.
type Notifier interface {
	Loading(message string)
	Success(n Notice)
	Failure(n Notice)
}

// New returns the notifier named kind writing to w.
func New(kind string, w io.Writer, noColor bool) (Notifier, error) {
	switch kind {
	case "alert":
		return NewAlert(w, noColor), nil
	case "modal":
		return NewModal(w), nil
	}
	return nil, fmt.Errorf("unknown notifier %q", kind)
}

// EventType tags a recorded notification.
type EventType string

const (
	EventLoading EventType = "loading"
	EventSuccess EventType = "success"
	EventFailure EventType = "failure"
)

type Event struct {
	Type   EventType
	Notice Notice
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Loading(message string) {
	r.add(Event{Type: EventLoading, Notice: Notice{Message: message}})
}

func (r *Recorder) Success(n Notice) { r.add(Event{Type: EventSuccess, Notice: n}) }

func (r *Recorder) Failure(n Notice) { r.add(Event{Type: EventFailure, Notice: n}) }

// Events returns a copy of what has been recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Last returns the most recent event of type t.
func (r *Recorder) Last(t EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// Multi fans every notification out to each notifier in order.
type Multi []Notifier

func (m Multi) Loading(message string) {
	for _, n := range m {
		n.Loading(message)
	}
}

func (m Multi) Success(notice Notice) {
	for _, n := range m {
		n.Success(notice)
	}
}

func (m Multi) Failure(notice Notice) {
	for _, n := range m {
		n.Failure(notice)
	}
}
