// Package chat defines the chat platform surface the bot depends on:
// messages with embeds, discussion threads, channels, guild members and
// role grants. Concrete adapters live in sub-packages.
package chat

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a message, channel, member or role does not exist.
	ErrNotFound = errors.New("chat: not found")

	// ErrPermissionDenied is returned when the bot lacks rights for an operation.
	ErrPermissionDenied = errors.New("chat: permission denied")
)

// Platform is the message and channel surface used by the workflows.
type Platform interface {
	// FetchMessage returns a message from a channel.
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)

	// DeleteMessage removes a message from a channel.
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	// ArchiveThread archives a discussion thread.
	ArchiveThread(ctx context.Context, threadID string) error

	// Channel resolves a channel by id.
	Channel(ctx context.Context, channelID string) (*Channel, error)

	// SendMessage posts a new message to a channel.
	SendMessage(ctx context.Context, channelID string, msg MessageSend) (*Message, error)

	// EditMessage replaces the content of an existing message.
	EditMessage(ctx context.Context, channelID, messageID string, msg MessageSend) error

	// EditInteractionResponse replaces the original response of an interaction.
	EditInteractionResponse(ctx context.Context, interactionToken string, msg MessageSend) error

	// Member resolves a guild member.
	Member(ctx context.Context, guildID, userID string) (*Member, error)
}

// RoleGateway grants and revokes privilege roles on guild members.
type RoleGateway interface {
	GrantRole(ctx context.Context, guildID, memberID, roleID string) error
	RevokeRole(ctx context.Context, guildID, memberID, roleID string) error
	HasRole(ctx context.Context, guildID, memberID, roleID string) (bool, error)
}

// Message is a posted chat message.
type Message struct {
	ID        string  `json:"id"`
	ChannelID string  `json:"channel_id"`
	Content   string  `json:"content"`
	Embeds    []Embed `json:"embeds"`
	Thread    *Thread `json:"thread,omitempty"`
}

// FirstEmbed returns the first embed of the message, or nil.
func (m *Message) FirstEmbed() *Embed {
	if m == nil || len(m.Embeds) == 0 {
		return nil
	}
	return &m.Embeds[0]
}

// Embed is a structured record attached to a message.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField is a named value inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the footer line of an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// Thread is the discussion thread attached to a message.
type Thread struct {
	ID       string          `json:"id"`
	Metadata *ThreadMetadata `json:"thread_metadata,omitempty"`
}

// Archived reports whether the thread is already archived.
func (t *Thread) Archived() bool {
	return t != nil && t.Metadata != nil && t.Metadata.Archived
}

// ThreadMetadata carries thread state.
type ThreadMetadata struct {
	Archived bool `json:"archived"`
}

// Channel is a text channel.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Member is a guild member.
type Member struct {
	User  User     `json:"user"`
	Nick  string   `json:"nick,omitempty"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the member carries roleID.
func (m *Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// DisplayName returns the nickname when set, else the username.
func (m *Member) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	return m.User.Username
}

// User is a chat account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// MessageSend is the payload for sending or editing a message.
type MessageSend struct {
	Content string  `json:"content"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Mention renders a user mention.
func Mention(userID string) string {
	return "<@" + userID + ">"
}

// Command option types.
const (
	OptionString = 3
	OptionUser   = 6
)

// Command is an application command definition.
type Command struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Options     []CommandOption `json:"options,omitempty"`
	// DefaultMemberPermissions is a permission bit set as a decimal string.
	DefaultMemberPermissions string `json:"default_member_permissions,omitempty"`
}

// CommandOption describes one argument of a Command.
type CommandOption struct {
	Type        int    `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
}
