package interactions

import (
	"encoding/json"
	"strings"

	"github.com/CodeMC/bot/internal/components/chat"
)

// Interaction types.
const (
	TypePing               = 1
	TypeApplicationCommand = 2
	TypeMessageComponent   = 3
	TypeModalSubmit        = 5
)

// Response types.
const (
	ResponsePong                   = 1
	ResponseChannelMessage         = 4
	ResponseDeferredChannelMessage = 5
	ResponseModal                  = 9
)

// FlagEphemeral makes a response visible to the invoker only.
const FlagEphemeral = 1 << 6

// Component types and text input styles used in modals.
const (
	ComponentActionRow = 1
	ComponentTextInput = 4

	TextInputParagraph = 2
)

// Interaction is an incoming interaction payload.
type Interaction struct {
	ID        string          `json:"id"`
	Type      int             `json:"type"`
	Token     string          `json:"token"`
	GuildID   string          `json:"guild_id,omitempty"`
	ChannelID string          `json:"channel_id,omitempty"`
	Member    *chat.Member    `json:"member,omitempty"`
	User      *chat.User      `json:"user,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Invoker returns the user who triggered the interaction.
func (i *Interaction) Invoker() chat.User {
	if i.Member != nil {
		return i.Member.User
	}
	if i.User != nil {
		return *i.User
	}
	return chat.User{}
}

// CommandData is the data of an application command interaction.
type CommandData struct {
	Name    string          `json:"name"`
	Options []CommandOption `json:"options,omitempty"`
}

// CommandOption is a value passed to an application command.
type CommandOption struct {
	Name  string          `json:"name"`
	Type  int             `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// String returns the option name as a trimmed string, or "".
func (d CommandData) String(name string) string {
	for _, o := range d.Options {
		if o.Name != name {
			continue
		}
		var s string
		if err := json.Unmarshal(o.Value, &s); err != nil {
			return strings.TrimSpace(string(o.Value))
		}
		return strings.TrimSpace(s)
	}
	return ""
}

// ComponentData is the data of a button press.
type ComponentData struct {
	CustomID      string `json:"custom_id"`
	ComponentType int    `json:"component_type"`
}

// ModalData is the data of a modal submission.
type ModalData struct {
	CustomID   string      `json:"custom_id"`
	Components []ActionRow `json:"components"`
}

// Value returns the submitted value of the text input customID.
func (d ModalData) Value(customID string) string {
	for _, row := range d.Components {
		for _, c := range row.Components {
			if c.CustomID == customID {
				return strings.TrimSpace(c.Value)
			}
		}
	}
	return ""
}

// ActionRow groups components.
type ActionRow struct {
	Type       int         `json:"type"`
	Components []Component `json:"components"`
}

// Component is a message or modal component.
type Component struct {
	Type      int    `json:"type"`
	CustomID  string `json:"custom_id,omitempty"`
	Label     string `json:"label,omitempty"`
	Style     int    `json:"style,omitempty"`
	Value     string `json:"value,omitempty"`
	Required  bool   `json:"required,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
}

// Response is the synchronous answer to an interaction.
type Response struct {
	Type int           `json:"type"`
	Data *ResponseData `json:"data,omitempty"`
}

// ResponseData carries a message or a modal.
type ResponseData struct {
	Content    string      `json:"content,omitempty"`
	Flags      int         `json:"flags,omitempty"`
	CustomID   string      `json:"custom_id,omitempty"`
	Title      string      `json:"title,omitempty"`
	Components []ActionRow `json:"components,omitempty"`
}
