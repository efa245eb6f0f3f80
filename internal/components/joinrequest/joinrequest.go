// Package joinrequest extracts a JoinRequest from the embed posted in the
// request channel.
//
// The record is an embed whose footer is the requester id and whose first
// two fields are "User/Organisation:" and "Repository:", each holding a
// single markdown link "[text](url)".
package joinrequest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CodeMC/bot/internal/components/chat"
)

var (
	ErrMissingEmbed          = errors.New("request record has no embed")
	ErrMissingFooterIdentity = errors.New("request record has no requester id footer")
	ErrInsufficientFields    = errors.New("request record has fewer than two fields")
	ErrMalformedLinkField    = errors.New("request record field is not a [text](url) link")
)

const (
	UserFieldName       = "User/Organisation:"
	RepositoryFieldName = "Repository:"
	titlePrefix         = "Join Request by "
)

// JoinRequest is a parsed request record. It is never modified after Parse.
type JoinRequest struct {
	RequesterID          string
	RequesterDisplayName string
	ExternalAccountLink  string
	ExternalAccountName  string
	RepositoryLink       string
	RepositoryName       string
	Justification        string
	OriginArtifactID     string
}

// Validate checks the structural requirements of a request record without
// looking at field contents.
func Validate(msg *chat.Message) error {
	_, err := validEmbed(msg)
	return err
}

func validEmbed(msg *chat.Message) (*chat.Embed, error) {
	embed := msg.FirstEmbed()
	if embed == nil {
		return nil, ErrMissingEmbed
	}
	if embed.Footer == nil || strings.TrimSpace(embed.Footer.Text) == "" {
		return nil, ErrMissingFooterIdentity
	}
	if len(embed.Fields) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientFields, len(embed.Fields))
	}
	return embed, nil
}

// Parse validates msg and extracts the JoinRequest it carries.
func Parse(msg *chat.Message) (*JoinRequest, error) {
	embed, err := validEmbed(msg)
	if err != nil {
		return nil, err
	}

	userName, userLink, err := ParseLink(embed.Fields[0].Value)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", embed.Fields[0].Name, err)
	}
	repoName, repoLink, err := ParseLink(embed.Fields[1].Value)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", embed.Fields[1].Name, err)
	}

	return &JoinRequest{
		RequesterID:          strings.TrimSpace(embed.Footer.Text),
		RequesterDisplayName: displayName(embed.Title),
		ExternalAccountLink:  userLink,
		ExternalAccountName:  userName,
		RepositoryLink:       repoLink,
		RepositoryName:       repoName,
		Justification:        embed.Description,
		OriginArtifactID:     msg.ID,
	}, nil
}

func displayName(title string) string {
	title = strings.TrimSpace(title)
	if name, ok := strings.CutPrefix(title, titlePrefix); ok {
		return strings.TrimSpace(name)
	}
	return title
}

// ParseLink splits "[text](url)" into text and url. It is not a markdown
// parser: the value must start with '[', end with ')', and contain exactly
// one "](" separator.
func ParseLink(value string) (text, url string, err error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "[") || !strings.HasSuffix(value, ")") {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedLinkField, value)
	}
	if strings.Count(value, "](") != 1 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedLinkField, value)
	}

	sep := strings.Index(value, "](")
	text = value[1:sep]
	url = value[sep+2 : len(value)-1]
	if text == "" || url == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedLinkField, value)
	}
	return text, url, nil
}

// Link renders text and url as "[text](url)".
func Link(text, url string) string {
	return "[" + text + "](" + url + ")"
}

// Embed renders the request record for r.
func (r *JoinRequest) Embed() chat.Embed {
	return chat.Embed{
		Title:       titlePrefix + r.RequesterDisplayName,
		Description: r.Justification,
		Fields: []chat.EmbedField{
			{Name: UserFieldName, Value: Link(r.ExternalAccountName, r.ExternalAccountLink), Inline: true},
			{Name: RepositoryFieldName, Value: Link(r.RepositoryName, r.RepositoryLink), Inline: true},
		},
		Footer: &chat.EmbedFooter{Text: r.RequesterID},
	}
}
