package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"hostscrape/internal/events"
)

type eventFilter struct {
	taskID    string
	status    string
	accountID *int64
}

func parseEventFilter(r *http.Request) (eventFilter, error) {
	query := r.URL.Query()
	filter := eventFilter{
		taskID: strings.TrimSpace(query.Get("task_id")),
		status: strings.TrimSpace(query.Get("status")),
	}
	if val := strings.TrimSpace(query.Get("account_id")); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return eventFilter{}, fmt.Errorf("invalid account_id")
		}
		filter.accountID = &parsed
	}
	return filter, nil
}

func (f eventFilter) Matches(event events.Event) bool {
	if f.taskID != "" && event.TaskID != f.taskID {
		return false
	}
	if f.status != "" && !strings.EqualFold(event.Status, f.status) {
		return false
	}
	if f.accountID != nil && event.AccountID != *f.accountID {
		return false
	}
	return true
}
