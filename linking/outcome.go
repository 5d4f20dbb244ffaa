// Package linking binds Discord members to Roblox accounts and keeps their
// Discord roles in line with their Roblox group ranks.
//
// The three entry points are Verifier.Begin, Unverifier.Begin and
// Reconciler.Reconcile. Each resolves to an Outcome; only unexpected
// failures are logged as errors.
package linking

import "errors"

// Outcome - The terminal result of a flow
type Outcome string

const (
	Verified         Outcome = "Verified"
	Cancelled        Outcome = "Cancelled"
	Expired          Outcome = "Expired"
	Failed           Outcome = "Failed"
	AlreadyVerified  Outcome = "AlreadyVerified"
	NotVerified      Outcome = "NotVerified"
	Completed        Outcome = "Completed"
	ValidationFailed Outcome = "ValidationFailed"
	AccountNotFound  Outcome = "AccountNotFound"
	AccountInUse     Outcome = "AccountInUse"
	InProgress       Outcome = "InProgress"
)

var (
	ErrSessionActive   = errors.New("user already has an active session")
	ErrSessionExpired  = errors.New("session expired")
	ErrUnknownSession  = errors.New("unknown session")
	ErrNotYourSession  = errors.New("session belongs to another user")
	ErrAlreadyAnswered = errors.New("prompt was already answered")
	ErrStalePrompt     = errors.New("action does not belong to the current prompt")
)
