package claudecode

import "strings"

// Mode selects how the prompt reaches the CLI.
type Mode int

const (
	// ModePrint runs a single non-interactive turn with JSON output; the
	// prompt is the final positional argument.
	ModePrint Mode = iota
	// ModeInteractive passes the prompt through stdin unchanged.
	ModeInteractive
)

func (m Mode) String() string {
	switch m {
	case ModeInteractive:
		return "interactive"
	default:
		return "print"
	}
}

// SessionKind selects the session directive.
type SessionKind int

const (
	SessionNone SessionKind = iota
	SessionContinue
	SessionResume
)

// Session is the session directive of an Intent. ID is only meaningful for
// SessionResume.
type Session struct {
	Kind SessionKind
	ID   string
}

// NoSession starts a fresh conversation.
func NoSession() Session { return Session{} }

// Continue continues the most recent conversation in the working directory.
func Continue() Session { return Session{Kind: SessionContinue} }

// Resume resumes the conversation with the given id. A blank id means no session.
func Resume(id string) Session {
	id = strings.TrimSpace(id)
	if id == "" {
		return Session{}
	}
	return Session{Kind: SessionResume, ID: id}
}

func (s Session) String() string {
	switch s.Kind {
	case SessionContinue:
		return "continue"
	case SessionResume:
		return "resume:" + s.ID
	default:
		return "none"
	}
}

// Intent describes one invocation. It is a value; build a new one per call.
type Intent struct {
	Prompt       string
	Mode         Mode
	Session      Session
	SystemPrompt string
	ExtraFlags   []string
	// Model overrides the configured model for this call only.
	Model string
}
