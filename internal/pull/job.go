package pull

import (
	"fmt"
	"time"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

// JobKind is one of the closed set of pull jobs.
type JobKind string

const (
	FetchNewMessages     JobKind = "fetch_new_messages"
	FetchNewOptOuts      JobKind = "fetch_new_opt_outs"
	FetchActiveCampaigns JobKind = "fetch_active_campaigns"
)

const (
	MessagesWatermarkKey = "spoke:messages:last_created_at"
	OptOutsWatermarkKey  = "spoke:opt_outs:last_created_at"
)

var (
	defaultMessagesSince = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	defaultOptOutsSince  = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Kinds lists every pull job in scheduling order.
func Kinds() []JobKind {
	return []JobKind{FetchNewMessages, FetchNewOptOuts, FetchActiveCampaigns}
}

// ParseJob validates a job key.
func ParseJob(key string) (JobKind, error) {
	switch kind := JobKind(key); kind {
	case FetchNewMessages, FetchNewOptOuts, FetchActiveCampaigns:
		return kind, nil
	}
	return "", fmt.Errorf("%w: unknown pull job %q", apperrors.ErrBadRequest, key)
}

// ParseParams decodes the job's {"pull_job": "<kind>"} params.
func ParseParams(job model.JobDescriptor) (JobKind, error) {
	params, err := job.DecodePullParams()
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
	}
	return ParseJob(params.PullJob)
}

// Description is the human readable name of a pull, e.g. "Spoke: fetch_new_messages".
func Description(kind JobKind) string {
	return "Spoke: " + string(kind)
}

func (k JobKind) String() string {
	return string(k)
}

// Audit records what part of the source a run covered.
type Audit struct {
	Scope string
	From  *time.Time
	To    *time.Time
}

// Result is the outcome of one pull run.
type Result struct {
	Count    int
	IDs      []int64
	Audit    Audit
	Deferred bool
}

// Reply renders the result for the wire.
func (r Result) Reply() *model.PullReply {
	ids := r.IDs
	if ids == nil {
		ids = []int64{}
	}
	reply := &model.PullReply{
		Count:    r.Count,
		IDs:      ids,
		Audit:    model.AuditMap{Scope: r.Audit.Scope},
		Deferred: r.Deferred,
	}
	if r.Audit.From != nil {
		from := utils.FormatTimestamp(*r.Audit.From)
		reply.Audit.From = &from
	}
	if r.Audit.To != nil {
		to := utils.FormatTimestamp(*r.Audit.To)
		reply.Audit.To = &to
	}
	return reply
}
