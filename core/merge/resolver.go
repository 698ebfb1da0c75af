// Package merge asks an external three-way merge service to combine a local
// edit with the remote copy and classifies the answer.
package merge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Classification is the merge service's verdict.
type Classification int

const (
	Clean Classification = iota
	WithConflicts
	ServiceFailed
)

var classificationNames = map[Classification]string{
	Clean:         "CLEAN",
	WithConflicts: "WITH_CONFLICTS",
	ServiceFailed: "SERVICE_FAILED",
}

func (c Classification) String() string {
	if name, ok := classificationNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// DefaultResultHeader carries the classification on a 2xx response.
const DefaultResultHeader = "X-Merge-Result"

const (
	MsgEditedSinceOpened   = "Someone else has edited this file since you last opened it."
	MsgEditedWithConflicts = "Someone else has edited this file since you last opened it and there are conflicts."
	MsgDifferentVersion    = "There is a previous version of this file that is different than the version you are trying to commit."
	MsgMayConflict         = "The commit may have conflicts."
)

// Request holds the three bodies of a merge.
type Request struct {
	Ancestor string `json:"ancestor"`
	Left     string `json:"left"`
	Right    string `json:"right"`
}

// Outcome is the classified result of one merge request.
type Outcome struct {
	Classification Classification
	// MergedContent is the service's body. Only a Clean body may be committed.
	MergedContent string
	// DiffReference links the known head to the fallback commit.
	DiffReference string
	// DifferentBranch is set when the commit targets another branch that
	// existed before the attempt.
	DifferentBranch bool
	// Cause explains a ServiceFailed outcome.
	Cause error
}

// Message is the user-facing explanation of the conflict.
func (o Outcome) Message() string {
	switch {
	case o.Classification == ServiceFailed:
		return MsgMayConflict
	case o.DifferentBranch:
		return MsgDifferentVersion
	case o.Classification == Clean:
		return MsgEditedSinceOpened
	default:
		return MsgEditedWithConflicts
	}
}

// Merger performs one three-way merge. The error is non-nil only when ctx
// was cancelled; service failures are reported as ServiceFailed outcomes.
type Merger interface {
	Merge(ctx context.Context, req Request) (Outcome, error)
}

type Options struct {
	ServiceURL   string
	ResultHeader string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Resolver is a Merger backed by an HTTP merge service.
type Resolver struct {
	serviceURL string
	header     string
	client     *http.Client
	logger     *slog.Logger
	requests   atomic.Int64
}

var _ Merger = (*Resolver)(nil)

// NewResolver creates a resolver. Without a service URL every merge is
// ServiceFailed and no request is made.
func NewResolver(opts Options) *Resolver {
	if opts.ResultHeader == "" {
		opts.ResultHeader = DefaultResultHeader
	}
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		serviceURL: opts.ServiceURL,
		header:     opts.ResultHeader,
		client:     opts.HTTPClient,
		logger:     opts.Logger.With("component", "merge"),
	}
}

func (r *Resolver) Merge(ctx context.Context, req Request) (Outcome, error) {
	if r.serviceURL == "" {
		return Outcome{Classification: ServiceFailed, Cause: fmt.Errorf("merge service not configured")}, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode merge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serviceURL, bytes.NewReader(body))
	if err != nil {
		return Outcome{Classification: ServiceFailed, Cause: err}, nil
	}
	httpReq.Header.Set("Content-Type", "application/json")

	n := r.requests.Add(1)
	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		r.logger.Warn("merge service unreachable", "error", err)
		return Outcome{Classification: ServiceFailed, Cause: err}, nil
	}
	defer resp.Body.Close()

	merged, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		return Outcome{Classification: ServiceFailed, Cause: err}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn("merge service failed", "status", resp.StatusCode)
		return Outcome{
			Classification: ServiceFailed,
			Cause:          fmt.Errorf("merge service returned status %d", resp.StatusCode),
		}, nil
	}

	out := Outcome{Classification: WithConflicts, MergedContent: string(merged)}
	if strings.EqualFold(strings.TrimSpace(resp.Header.Get(r.header)), "CLEAN") {
		out.Classification = Clean
	}

	r.logger.Debug("merge finished",
		"result", out.Classification.String(),
		"request", n,
		"duration", time.Since(start),
	)
	return out, nil
}
