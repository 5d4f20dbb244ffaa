package linking

import (
	"fmt"

	db "github.com/cufee/botto-link/database"
	"github.com/cufee/botto-link/roblox"
)

func statusView(flow string, status Status, title, description string) View {
	return View{Flow: flow, Status: status, Title: title, Description: description}
}

func failedView(flow string) View {
	return statusView(flow, StatusFailure, "Operation Failed", "An error occurred while processing your request. Please try again later.")
}

func incompleteConfigView(flow string) View {
	return statusView(flow, StatusFailure, "Operation Failed", "The configuration is not complete. An administrator needs to set the verified role with `!setup`.")
}

func inProgressView(flow string) View {
	return statusView(flow, StatusFailure, "Operation Failed", "You already have a verification process running. Finish or cancel it first.")
}

func expiredView(flow string) View {
	return statusView(flow, StatusFailure, "Operation Cancelled", "You did not respond in time. The process was cancelled.")
}

func alreadyVerifiedView(v db.Verification) View {
	return statusView("Verify", StatusFailure, "Operation Failed",
		fmt.Sprintf("You are already verified with the following account:\n**Username:** %s\n**Roblox ID:** %d", v.Username, v.AccountID))
}

func confirmView(s *Session, thumbnail string) View {
	return View{
		SessionID: s.ID,
		Flow:      "Verify",
		Status:    StatusPending,
		Title:     "Verification Step 1 - Confirmation",
		Description: fmt.Sprintf("We have found your Roblox profile! Are you sure this is you?\n\n**Username:** [%s (%d)](%s)",
			s.Username, s.AccountID, roblox.ProfileURL(s.AccountID)),
		Thumbnail: thumbnail,
		Buttons: []Button{
			{Action: ActionYes, Label: "Yes"},
			{Action: ActionNo, Label: "No", Danger: true},
		},
	}
}

func phraseView(s *Session) View {
	return View{
		SessionID:   s.ID,
		Flow:        "Verify",
		Status:      StatusPending,
		Title:       "Verification Step 2 - Random Phrase",
		Description: fmt.Sprintf("Please add the following phrase to your Roblox profile description, then press **Done**:\n\n**%s**", s.Phrase),
		Buttons: []Button{
			{Action: ActionDone, Label: "Done"},
			{Action: ActionCancel, Label: "Cancel", Danger: true},
		},
	}
}

func verifiedView(v db.Verification, thumbnail string) View {
	view := statusView("Verify", StatusSuccess, "Verification Successful",
		fmt.Sprintf("Verified with [%s (%d)](%s)", v.Username, v.AccountID, roblox.ProfileURL(v.AccountID)))
	view.Thumbnail = thumbnail
	return view
}

func unverifyConfirmView(s *Session) View {
	return View{
		SessionID:   s.ID,
		Flow:        "Unverify",
		Status:      StatusPending,
		Title:       "Unverification Confirmation",
		Description: fmt.Sprintf("Are you sure you want to unverify your Roblox account (%s)? This action cannot be undone.", s.Username),
		Buttons: []Button{
			{Action: ActionYes, Label: "Yes"},
			{Action: ActionCancel, Label: "Cancel", Danger: true},
		},
	}
}
