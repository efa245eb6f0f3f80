package joinrequest_test

import (
	"errors"
	"testing"

	"github.com/CodeMC/bot/internal/components/chat"
	"github.com/CodeMC/bot/internal/components/joinrequest"
)

func record(footer string, fields ...chat.EmbedField) *chat.Message {
	embed := chat.Embed{
		Title:       "Join Request by alice#0001",
		Description: "I build plugins.",
		Fields:      fields,
	}
	if footer != "" {
		embed.Footer = &chat.EmbedFooter{Text: footer}
	}
	return &chat.Message{ID: "m1", Embeds: []chat.Embed{embed}}
}

var (
	userField = chat.EmbedField{Name: joinrequest.UserFieldName, Value: "[Alice](https://github.com/Alice)"}
	repoField = chat.EmbedField{Name: joinrequest.RepositoryFieldName, Value: "[proj](https://github.com/Alice/proj)"}
)

func TestParse(t *testing.T) {
	req, err := joinrequest.Parse(record(" 42 ", userField, repoField))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := joinrequest.JoinRequest{
		RequesterID:          "42",
		RequesterDisplayName: "alice#0001",
		ExternalAccountLink:  "https://github.com/Alice",
		ExternalAccountName:  "Alice",
		RepositoryLink:       "https://github.com/Alice/proj",
		RepositoryName:       "proj",
		Justification:        "I build plugins.",
		OriginArtifactID:     "m1",
	}
	if *req != want {
		t.Errorf("Parse =\n%+v\nwant\n%+v", *req, want)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		msg  *chat.Message
		want error
	}{
		{"no embed", &chat.Message{ID: "m1"}, joinrequest.ErrMissingEmbed},
		{"nil message", nil, joinrequest.ErrMissingEmbed},
		{"no footer", record("", userField, repoField), joinrequest.ErrMissingFooterIdentity},
		{"blank footer", record("   ", userField, repoField), joinrequest.ErrMissingFooterIdentity},
		{"one field", record("42", userField), joinrequest.ErrInsufficientFields},
		{"no fields", record("42"), joinrequest.ErrInsufficientFields},
		{"plain user", record("42", chat.EmbedField{Name: "User/Organisation:", Value: "Alice"}, repoField), joinrequest.ErrMalformedLinkField},
		{"plain repo", record("42", userField, chat.EmbedField{Name: "Repository:", Value: "https://github.com/Alice/proj"}), joinrequest.ErrMalformedLinkField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := joinrequest.Parse(tt.msg)
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := joinrequest.Validate(record("42", userField, repoField)); err != nil {
		t.Errorf("Validate: %v", err)
	}
	// Validate does not look at field contents.
	bad := chat.EmbedField{Name: "x", Value: "not a link"}
	if err := joinrequest.Validate(record("42", bad, bad)); err != nil {
		t.Errorf("Validate with malformed values: %v", err)
	}
	if err := joinrequest.Validate(record("42", userField)); !errors.Is(err, joinrequest.ErrInsufficientFields) {
		t.Errorf("Validate = %v, want ErrInsufficientFields", err)
	}
}

func TestParseLink(t *testing.T) {
	tests := []struct {
		in       string
		text     string
		url      string
		wantFail bool
	}{
		{"[Alice](https://github.com/Alice)", "Alice", "https://github.com/Alice", false},
		{"  [a b](u)  ", "a b", "u", false},
		{"[Alice](https://example.org/a(b))", "Alice", "https://example.org/a(b)", false},
		{"Alice", "", "", true},
		{"[Alice]", "", "", true},
		{"(u)[Alice]", "", "", true},
		{"[](u)", "", "", true},
		{"[Alice]()", "", "", true},
		{"[a](b) [c](d)", "", "", true},
		{"x[Alice](u)", "", "", true},
		{"[Alice](u", "", "", true},
	}

	for _, tt := range tests {
		text, url, err := joinrequest.ParseLink(tt.in)
		if tt.wantFail {
			if !errors.Is(err, joinrequest.ErrMalformedLinkField) {
				t.Errorf("ParseLink(%q) error = %v, want ErrMalformedLinkField", tt.in, err)
			}
			continue
		}
		if err != nil || text != tt.text || url != tt.url {
			t.Errorf("ParseLink(%q) = %q, %q, %v; want %q, %q", tt.in, text, url, err, tt.text, tt.url)
		}
	}
}

func TestEmbed_RoundTrip(t *testing.T) {
	req := &joinrequest.JoinRequest{
		RequesterID:          "42",
		RequesterDisplayName: "alice",
		ExternalAccountLink:  "https://github.com/Alice",
		ExternalAccountName:  "Alice",
		RepositoryLink:       "https://github.com/Alice/proj",
		RepositoryName:       "proj",
		Justification:        "why",
		OriginArtifactID:     "m9",
	}

	got, err := joinrequest.Parse(&chat.Message{ID: "m9", Embeds: []chat.Embed{req.Embed()}})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *got != *req {
		t.Errorf("round trip =\n%+v\nwant\n%+v", *got, *req)
	}
}

func TestParse_UntitledRecord(t *testing.T) {
	msg := record("42", userField, repoField)
	msg.Embeds[0].Title = "Custom"
	req, err := joinrequest.Parse(msg)
	if err != nil {
		t.Fatal(err)
	}
	if req.RequesterDisplayName != "Custom" {
		t.Errorf("display name = %q", req.RequesterDisplayName)
	}
}
