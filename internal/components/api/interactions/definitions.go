package interactions

import "github.com/CodeMC/bot/internal/components/chat"

// manageRoles restricts the commands to members who may manage roles.
const manageRoles = "268435456"

// Custom id prefixes of request buttons and the deny modal.
const (
	acceptPrefix    = "accept:"
	denyPrefix      = "deny:"
	denyModalPrefix = "deny_modal:"
	reasonInputID   = "reason"
)

func option(typ int, name, description string, required bool) chat.CommandOption {
	return chat.CommandOption{Type: typ, Name: name, Description: description, Required: required}
}

// Commands returns the application commands served by the handler.
func Commands() []chat.Command {
	member := func(required bool) chat.CommandOption {
		return option(chat.OptionUser, "member", "Server member", required)
	}
	username := func(required bool) chat.CommandOption {
		return option(chat.OptionString, "username", "CI username", required)
	}
	messageID := option(chat.OptionString, "message_id", "Join request message id", true)

	cmds := []chat.Command{
		{Name: "link", Description: "Link a CI username to a member", Options: []chat.CommandOption{member(true), username(true)}},
		{Name: "unlink", Description: "Unlink one or all usernames of a member", Options: []chat.CommandOption{member(true), username(false)}},
		{Name: "validate", Description: "Re-sync CI and repository accounts", Options: []chat.CommandOption{username(false)}},
		{Name: "createuser", Description: "Create CI and repository accounts for a member", Options: []chat.CommandOption{member(true), username(true)}},
		{Name: "deleteuser", Description: "Delete a user from CI and the repository", Options: []chat.CommandOption{username(true)}},
		{Name: "changepassword", Description: "Rotate a user's repository credential", Options: []chat.CommandOption{username(true)}},
		{Name: "info", Description: "Show what is known about a user", Options: []chat.CommandOption{
			username(true), option(chat.OptionString, "job", "CI job name", false),
		}},
		{Name: "accept", Description: "Accept a join request", Options: []chat.CommandOption{
			messageID, option(chat.OptionString, "project", "CI job name, defaults to the repository", false),
		}},
		{Name: "deny", Description: "Deny a join request", Options: []chat.CommandOption{
			messageID, option(chat.OptionString, "reason", "Reason shown to the requester", true),
		}},
	}
	for i := range cmds {
		cmds[i].DefaultMemberPermissions = manageRoles
	}
	return cmds
}
