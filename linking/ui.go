package linking

import "context"

// Action - A button a user can press on a prompt
type Action string

const (
	ActionYes    Action = "yes"
	ActionNo     Action = "no"
	ActionDone   Action = "done"
	ActionCancel Action = "cancel"
)

// Status - Decides how a view is presented
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusFailure
)

// Button - An action offered on a view
type Button struct {
	Action Action
	Label  string
	Danger bool
}

// View - What the user sees for one step of a flow
type View struct {
	// Set when the view offers buttons
	SessionID   string
	Flow        string
	Status      Status
	Title       string
	Description string
	Thumbnail   string
	Buttons     []Button
}

// Replier - Answers a single user interaction
type Replier interface {
	Reply(ctx context.Context, v View) error
}

// Conversation - The reply surface of the command that started a flow
type Conversation interface {
	// Reply answers the command itself.
	Replier
	// Edit replaces the last view without an interaction to answer, used when a prompt expires.
	Edit(ctx context.Context, v View) error
}

// Event - A user action delivered to a waiting session
type Event struct {
	Action Action
	Reply  Replier
}
