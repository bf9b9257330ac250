package webhook

import (
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"go.olrik.dev/relaunch/internal/auth"
	"go.olrik.dev/relaunch/internal/metrics"
)

// Protocol headers, lower-cased as delivered by the relay
const (
	HeaderSignature = "x-hub-signature-256"
	HeaderEvent     = "x-github-event"
	HeaderDelivery  = "x-github-delivery"
)

// Outcome is how the router resolved one event
type Outcome string

const (
	OutcomeUnsigned     Outcome = "unsigned"
	OutcomeBadSignature Outcome = "bad_signature"
	OutcomeNoEvent      Outcome = "no_event"
	OutcomeIgnoredEvent Outcome = "ignored_event"
	OutcomeMalformed    Outcome = "malformed"
	OutcomeOtherBranch  Outcome = "other_branch"
	OutcomeTriggered    Outcome = "triggered"
)

// PushEvent is the part of a GitHub push payload the router reads
type PushEvent struct {
	Ref        string     `json:"ref"`
	After      string     `json:"after"`
	Repository Repository `json:"repository"`
	Commits    []Commit   `json:"commits"`
}

type Repository struct {
	FullName string `json:"full_name"`
}

type Commit struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// Router authenticates relay events and triggers a restart for pushes to
// the target branch. Untrusted input never produces an error; it is logged
// and dropped.
type Router struct {
	auth      *auth.Authenticator
	branch    string
	ref       string
	verbose   bool
	onTrigger func()
	logger    *slog.Logger
}

// NewRouter creates a router for pushes to branch
func NewRouter(secret, branch string, verbose bool, onTrigger func()) *Router {
	return &Router{
		auth:      auth.New(secret),
		branch:    branch,
		ref:       "refs/heads/" + branch,
		verbose:   verbose,
		onTrigger: onTrigger,
		logger:    slog.Default(),
	}
}

// WithLogger replaces the router's logger
func (r *Router) WithLogger(logger *slog.Logger) *Router {
	r.logger = logger
	return r
}

// Handle processes one event. It matches relay.Handler.
func (r *Router) Handle(headers map[string]string, body string) {
	outcome := r.route(headers, body)
	metrics.WebhookEvents.WithLabelValues(string(outcome)).Inc()
}

func (r *Router) route(headers map[string]string, body string) Outcome {
	logger := r.logger.With("received_at", time.Now().Format(time.RFC3339))
	if delivery := headers[HeaderDelivery]; delivery != "" {
		logger = logger.With("delivery", delivery)
	}

	if r.verbose {
		logger.Info("Webhook received", "body", body)
	}

	signature, ok := headers[HeaderSignature]
	if !ok || signature == "" {
		logger.Error("Received payload without a signature")
		return OutcomeUnsigned
	}
	if !r.auth.IsValid(signature, body) {
		logger.Error("Received payload with incorrect signature")
		return OutcomeBadSignature
	}

	event := headers[HeaderEvent]
	if event == "" {
		if r.verbose {
			logger.Info("No event in header")
		}
		return OutcomeNoEvent
	}
	if event != "push" {
		if r.verbose {
			logger.Info("Unhandled event", "event", event)
		}
		return OutcomeIgnoredEvent
	}

	var push PushEvent
	if err := json.Unmarshal([]byte(body), &push); err != nil {
		logger.Error("Failed to parse push event", "error", err)
		return OutcomeMalformed
	}

	if push.Ref != r.ref {
		logger.Debug("Ignoring push to other ref", "ref", push.Ref)
		return OutcomeOtherBranch
	}

	logger.Info("New commits pushed",
		"commits", len(push.Commits),
		"repository", push.Repository.FullName+"@"+r.branch,
		"head", push.After)
	if r.onTrigger != nil {
		r.onTrigger()
	}
	return OutcomeTriggered
}
