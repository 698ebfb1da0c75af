package errors

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Intent is what a failed remote call was trying to do.
type Intent int

const (
	IntentOther Intent = iota
	IntentContentFetch
	IntentBranchCreate
	IntentCommit
	IntentMerge
)

var intentNames = map[Intent]string{
	IntentOther:        "other",
	IntentContentFetch: "content_fetch",
	IntentBranchCreate: "branch_create",
	IntentCommit:       "commit",
	IntentMerge:        "merge",
}

func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return "unknown"
}

// Action is the recovery the commit protocol takes for a classified failure.
type Action int

const (
	// ActionSurface reports the error to the user.
	ActionSurface Action = iota
	// ActionReauthenticate invalidates the session and replays the attempt once.
	ActionReauthenticate
	// ActionRetryAsRef creates refs/heads/<branch> at the given SHA instead.
	ActionRetryAsRef
	// ActionProbeAccess checks repository visibility to tell "no access" from
	// "file does not exist".
	ActionProbeAccess
	// ActionResolveConflict hands the attempt to the merge service.
	ActionResolveConflict
	// ActionBranchExists marks the branch as already existing and continues.
	ActionBranchExists
	// ActionOfferFork asks the user whether to commit on a fork.
	ActionOfferFork
	// ActionRetry retries idempotent calls per the tier's policy.
	ActionRetry
	// ActionCancel stops without reporting an error.
	ActionCancel
)

var actionNames = map[Action]string{
	ActionSurface:         "surface",
	ActionReauthenticate:  "reauthenticate",
	ActionRetryAsRef:      "retry_as_ref",
	ActionProbeAccess:     "probe_access",
	ActionResolveConflict: "resolve_conflict",
	ActionBranchExists:    "branch_exists",
	ActionOfferFork:       "offer_fork",
	ActionRetry:           "retry",
	ActionCancel:          "cancel",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// Classification is the result of classifying one failed remote call.
type Classification struct {
	Kind       Kind
	Action     Action
	Tier       ErrorTier
	StatusCode int
	Message    string
}

// Err turns the classification into a SyncError wrapping cause.
func (c Classification) Err(cause error) *SyncError {
	e := NewSyncError(c.Kind, c.Message, cause).WithTier(c.Tier).WithStatusCode(c.StatusCode)
	var re *RemoteError
	if errors.As(cause, &re) {
		e.RetryAfter = re.wait(time.Now())
	}
	return e
}

const referenceExists = "reference already exists"

// User-facing messages.
const (
	MsgNotAuthorized   = "Not authorized."
	MsgFileNotFound    = "The requested file was not found."
	MsgBranchNotFound  = "The branch was not found."
	MsgNoCommitRights  = "You do not have rights to commit in the current repository."
	MsgAccessDenied    = "Access denied."
	MsgDiverged        = "The file changed on the remote since it was opened."
	MsgRejected        = "The repository rejected the request."
	MsgRateLimited     = "GitHub rate limit exceeded. Try again later."
	MsgUnavailable     = "GitHub is unavailable right now. Try again later."
	MsgCannotConnect   = "Cannot connect to GitHub. Check your network and proxy settings."
	MsgUnexpectedReply = "Unexpected response from GitHub."
)

// ErrorClassifier maps failures to the recovery table of the commit protocol.
type ErrorClassifier struct {
	mu            sync.RWMutex
	transientPats []*regexp.Regexp
}

// NewErrorClassifier returns a classifier that knows only the built-in
// transport failures.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// AddTransientPattern marks transport errors matching pattern as transient.
func (c *ErrorClassifier) AddTransientPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.transientPats = append(c.transientPats, re)
	c.mu.Unlock()
	return nil
}

var defaultClassifier = NewErrorClassifier()

// AddTransientPattern extends the default classifier.
func AddTransientPattern(pattern string) error {
	return defaultClassifier.AddTransientPattern(pattern)
}

// Classify uses the default classifier.
func Classify(err error, intent Intent) Classification {
	return defaultClassifier.Classify(err, intent)
}

// Classify maps err, raised by a call made with the given intent, to a
// recovery action.
func (c *ErrorClassifier) Classify(err error, intent Intent) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, Action: ActionSurface, Tier: TierPermanent}
	}

	if errors.Is(err, context.Canceled) {
		return Classification{Kind: KindCancelled, Action: ActionCancel, Tier: TierPermanent, Message: ErrCancelled.Message}
	}

	var re *RemoteError
	if errors.As(err, &re) {
		return classifyStatus(re, intent)
	}

	var se *SyncError
	if errors.As(err, &se) {
		return Classification{
			Kind:       se.Kind,
			Action:     actionForKind(se.Kind, intent),
			Tier:       se.Tier,
			StatusCode: se.StatusCode,
			Message:    se.Message,
		}
	}

	return c.classifyTransport(err)
}

func classifyStatus(re *RemoteError, intent Intent) Classification {
	cl := Classification{StatusCode: re.StatusCode}
	writes := intent == IntentCommit || intent == IntentMerge

	switch {
	case re.StatusCode == http.StatusUnauthorized:
		cl.Kind, cl.Action, cl.Message = KindUnauthorized, ActionReauthenticate, MsgNotAuthorized

	case re.rateLimited():
		cl.Kind, cl.Action, cl.Message = KindServiceUnavailable, ActionRetry, MsgRateLimited
		cl.Tier = TierExternalRateLimit
		return cl

	case re.StatusCode == http.StatusNotFound:
		switch {
		case intent == IntentBranchCreate:
			cl.Kind, cl.Action, cl.Message = KindNotFound, ActionRetryAsRef, MsgBranchNotFound
		case intent == IntentContentFetch:
			cl.Kind, cl.Action, cl.Message = KindNotFound, ActionProbeAccess, MsgFileNotFound
		case writes:
			cl.Kind, cl.Action, cl.Message = KindAccessDenied, ActionOfferFork, MsgNoCommitRights
		default:
			cl.Kind, cl.Action, cl.Message = KindNotFound, ActionSurface, ErrNotFound.Message
		}

	case re.StatusCode == http.StatusForbidden:
		if writes {
			cl.Kind, cl.Action, cl.Message = KindAccessDenied, ActionOfferFork, MsgNoCommitRights
		} else {
			cl.Kind, cl.Action, cl.Message = KindAccessDenied, ActionSurface, MsgAccessDenied
		}

	case re.StatusCode == http.StatusConflict:
		cl.Kind, cl.Message = KindVersionConflict, MsgDiverged
		if writes {
			cl.Action = ActionResolveConflict
		} else {
			cl.Action = ActionSurface
			if re.Message != "" {
				cl.Message = re.Message
			}
		}

	case re.StatusCode == http.StatusUnprocessableEntity:
		cl.Kind = KindValidation
		if intent == IntentBranchCreate && strings.Contains(strings.ToLower(re.Text()), referenceExists) {
			cl.Action, cl.Message = ActionBranchExists, ""
			break
		}
		cl.Action, cl.Message = ActionSurface, verbatim(re)

	case re.StatusCode >= 500:
		cl.Kind, cl.Action, cl.Message = KindServiceUnavailable, ActionRetry, MsgUnavailable
		cl.Tier = TierExternalDegrading
		return cl

	default:
		cl.Kind, cl.Action, cl.Message = KindUnknown, ActionSurface, MsgUnexpectedReply
	}

	cl.Tier = cl.Kind.Tier()
	return cl
}

func verbatim(re *RemoteError) string {
	if re.Message != "" {
		return re.Message
	}
	if len(re.Details) > 0 {
		return strings.Join(re.Details, "; ")
	}
	return MsgRejected
}

func actionForKind(kind Kind, intent Intent) Action {
	switch kind {
	case KindUnauthorized:
		return ActionReauthenticate
	case KindAccessDenied:
		if intent == IntentCommit || intent == IntentMerge {
			return ActionOfferFork
		}
	case KindVersionConflict:
		if intent == IntentCommit || intent == IntentMerge {
			return ActionResolveConflict
		}
	case KindCancelled:
		return ActionCancel
	}
	return ActionSurface
}

var transientKeywords = []string{
	"timeout",
	"temporary",
	"connection reset",
	"connection refused",
	"eof",
	"broken pipe",
	"network unreachable",
	"no route to host",
	"tls handshake",
}

func (c *ErrorClassifier) classifyTransport(err error) Classification {
	cl := Classification{Kind: KindServiceUnavailable, Message: MsgCannotConnect}
	if c.isTransient(err.Error()) {
		cl.Action, cl.Tier = ActionRetry, TierTransient
		return cl
	}
	cl.Action, cl.Tier = ActionSurface, TierExternalDegrading
	return cl
}

func (c *ErrorClassifier) isTransient(errStr string) bool {
	lower := strings.ToLower(errStr)
	for _, kw := range transientKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.transientPats {
		if p.MatchString(errStr) {
			return true
		}
	}
	return false
}
