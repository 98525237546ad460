package backend

import (
	"encoding/json"
	"net/http"

	"github.com/proxycraft/proxycraft/config"
	"github.com/proxycraft/proxycraft/filters"
)

// schedulerHandler surfaces the configured cron jobs as a status
// document. Jobs are not executed here.
type schedulerHandler struct {
	backend *config.SchedulerBackend
	opts    Options
}

func newScheduler(b *config.SchedulerBackend, o Options) Handler {
	return &schedulerHandler{backend: b, opts: o}
}

type jobStatus struct {
	Schedule    string `json:"schedule"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}

func (h *schedulerHandler) Handle(req *http.Request) (*http.Response, error) {
	jobs := make(map[string]jobStatus, len(h.backend.CronJobs))
	for name, j := range h.backend.CronJobs {
		jobs[name] = jobStatus{
			Schedule:    j.Schedule,
			Command:     j.Command,
			Description: j.Description,
		}
	}

	b, err := json.Marshal(map[string]interface{}{
		"enabled": h.backend.Enabled,
		"jobs":    jobs,
	})
	if err != nil {
		return nil, err
	}

	return filters.JSONResponse(http.StatusOK, b), nil
}
