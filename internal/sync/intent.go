package sync

import (
	"fmt"

	"github.com/mboyette/forumsync/internal/discord"
)

// Messages and reactions posted by the reconciler. Announce and React are
// only ever emitted alongside a state transition, which keeps them from
// repeating on every pass.
const (
	MsgIssueClosed   = "🔒 Issue closed on GitHub"
	MsgIssueReopened = "🔓 Issue reopened on GitHub"
	ReactionResolved = "✅"
)

// IntentKind enumerates the mutations the reconciler can request.
type IntentKind int

const (
	// IntentLock locks a thread because its issue closed.
	IntentLock IntentKind = iota
	// IntentUnlock unlocks (and unarchives) a thread because its issue
	// reopened.
	IntentUnlock
	// IntentAnnounce posts a status message to the thread.
	IntentAnnounce
	// IntentReact adds a reaction to the thread's starter message.
	IntentReact
)

func (k IntentKind) String() string {
	switch k {
	case IntentLock:
		return "lock"
	case IntentUnlock:
		return "unlock"
	case IntentAnnounce:
		return "announce"
	case IntentReact:
		return "react"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Intent is one idempotent mutation the executor should apply to a
// thread. Reason goes to the Discord audit log for lock/unlock; Content
// carries the message text for announce and the emoji for react.
type Intent struct {
	ThreadID uint64
	Kind     IntentKind
	Reason   string
	Content  string
}

// planIntents computes the mutations needed to drive one thread's state
// to match its issue. An empty plan means the pair is already converged,
// and in particular that no announcement or reaction is re-sent.
func planIntents(state discord.ThreadState, issueOpen bool, issueRef string) []Intent {
	if issueOpen {
		if !state.Locked && !state.Archived {
			return nil
		}
		reason := "issue reopened on GitHub: " + issueRef
		return []Intent{
			{ThreadID: state.ID, Kind: IntentUnlock, Reason: reason},
			{ThreadID: state.ID, Kind: IntentAnnounce, Content: MsgIssueReopened},
		}
	}

	if state.Locked {
		return nil
	}
	reason := "issue closed on GitHub: " + issueRef
	return []Intent{
		{ThreadID: state.ID, Kind: IntentLock, Reason: reason},
		{ThreadID: state.ID, Kind: IntentReact, Content: ReactionResolved},
		{ThreadID: state.ID, Kind: IntentAnnounce, Content: MsgIssueClosed},
	}
}
