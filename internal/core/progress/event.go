package progress

import "ratingsync/internal/core/scrapeerr"

type Kind string

const (
	KindInit              Kind = "init"
	KindBrowserLaunch     Kind = "browser_launch"
	KindProfileFetching   Kind = "profile_fetching"
	KindProfileExtracted  Kind = "profile_extracted"
	KindRatingsFetching   Kind = "ratings_fetching"
	KindRatingsExtracted  Kind = "ratings_extracted"
	KindFetchingFirstPage Kind = "fetching_first_page"
	KindPagesFound        Kind = "pages_found"
	KindPageStart         Kind = "page_start"
	KindPageExtracted     Kind = "page_extracted"
	KindPageComplete      Kind = "page_complete"
	KindMemoryCleanup     Kind = "memory_cleanup"
	KindSaving            Kind = "saving"
	KindWarning           Kind = "warning"
	KindComplete          Kind = "complete"
	KindError             Kind = "error"
	KindHeartbeat         Kind = "heartbeat"
)

func (k Kind) Terminal() bool { return k == KindComplete || k == KindError }

// Event is one message of a job's progress stream. Page, TotalPages, Count
// and Total are set only for the kinds they describe.
type Event struct {
	Kind       Kind        `json:"type"`
	Message    string      `json:"message"`
	Timestamp  int64       `json:"timestamp"`
	Page       int         `json:"page,omitempty"`
	TotalPages int         `json:"total_pages,omitempty"`
	Count      int         `json:"count,omitempty"`
	Total      int         `json:"total,omitempty"`
	Code       string      `json:"code,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

// Emitter is the producer side of a progress stream.
type Emitter interface {
	Emit(Event)
}

// Discard drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// ErrorEvent renders err as a terminal error event with a user-facing
// message and machine-readable code.
func ErrorEvent(err error) Event {
	ev := Event{
		Kind:    KindError,
		Message: scrapeerr.UserMessage(err),
		Code:    string(scrapeerr.CodeOf(err)),
	}
	if se, ok := scrapeerr.As(err); ok && se.Page > 0 {
		ev.Page = se.Page
	}
	if err != nil {
		ev.Data = map[string]string{"detail": err.Error()}
	}
	return ev
}
