package discord_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/CodeMC/bot/internal/components/chat"
	"github.com/CodeMC/bot/internal/components/chat/discord"
	httpclient "github.com/CodeMC/bot/internal/platform/http/client"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   string
}

func newServer(t *testing.T) (*[]recorded, *discord.Client) {
	t.Helper()
	var calls []recorded

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			calls = append(calls, recorded{r.Method, r.URL.Path, r.Header.Get("Authorization"), string(body)})
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/channels/{channel}/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"id":"`+chi.URLParam(r, "id")+`","channel_id":"`+chi.URLParam(r, "channel")+`",
			"embeds":[{"title":"Join Request","fields":[{"name":"User/Organisation:","value":"[Alice](https://github.com/Alice)"}],"footer":{"text":"42"}}],
			"thread":{"id":"t1","thread_metadata":{"archived":false}}}`)
	})
	r.Delete("/channels/{channel}/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Patch("/channels/{channel}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"`+chi.URLParam(r, "channel")+`"}`)
	})
	r.Get("/channels/{channel}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"`+chi.URLParam(r, "channel")+`","name":"accepted"}`)
	})
	r.Post("/channels/{channel}/messages", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"900","channel_id":"`+chi.URLParam(r, "channel")+`"}`)
	})
	r.Patch("/webhooks/{app}/{token}/messages/@original", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	})
	r.Get("/guilds/{guild}/members/{user}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"user":{"id":"`+chi.URLParam(r, "user")+`","username":"alice"},"roles":["r1"]}`)
	})
	r.Put("/guilds/{guild}/members/{user}/roles/{role}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "role") == "admin" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/guilds/{guild}/members/{user}/roles/{role}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "boom")
	})

	r.Put("/applications/{app}/guilds/{guild}/commands", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := discord.NewClient(discord.ClientConfig{
		APIURL:        srv.URL,
		Token:         "bot-token",
		ApplicationID: "app1",
		HTTPClient:    httpclient.NewContextClient(httpclient.New(nil)),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return &calls, c
}

func TestFetchMessage(t *testing.T) {
	calls, c := newServer(t)

	msg, err := c.FetchMessage(context.Background(), "req", "123")
	if err != nil {
		t.Fatalf("FetchMessage: %v", err)
	}
	embed := msg.FirstEmbed()
	if embed == nil || embed.Footer == nil || embed.Footer.Text != "42" {
		t.Fatalf("unexpected embed %+v", embed)
	}
	if msg.Thread == nil || msg.Thread.ID != "t1" || msg.Thread.Archived() {
		t.Errorf("unexpected thread %+v", msg.Thread)
	}
	if (*calls)[0].auth != "Bot bot-token" {
		t.Errorf("Authorization = %q", (*calls)[0].auth)
	}
}

func TestFetchMessage_NotFound(t *testing.T) {
	_, c := newServer(t)

	_, err := c.FetchMessage(context.Background(), "req", "missing")
	if !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArchiveThread(t *testing.T) {
	calls, c := newServer(t)

	if err := c.ArchiveThread(context.Background(), "t1"); err != nil {
		t.Fatalf("ArchiveThread: %v", err)
	}
	last := (*calls)[len(*calls)-1]
	if last.method != http.MethodPatch || last.path != "/channels/t1" {
		t.Errorf("unexpected call %+v", last)
	}
	var body map[string]bool
	json.Unmarshal([]byte(last.body), &body)
	if !body["archived"] {
		t.Errorf("archive body = %q", last.body)
	}
}

func TestSendMessage(t *testing.T) {
	calls, c := newServer(t)

	sent, err := c.SendMessage(context.Background(), "acc", chat.MessageSend{
		Embeds: []chat.Embed{{Title: "Accepted", Footer: &chat.EmbedFooter{Text: "42"}}},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent.ID != "900" || sent.ChannelID != "acc" {
		t.Errorf("unexpected message %+v", sent)
	}
	var body chat.MessageSend
	if err := json.Unmarshal([]byte((*calls)[0].body), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Embeds) != 1 || body.Embeds[0].Title != "Accepted" {
		t.Errorf("unexpected body %q", (*calls)[0].body)
	}
}

func TestEditInteractionResponse(t *testing.T) {
	calls, c := newServer(t)

	if err := c.EditInteractionResponse(context.Background(), "tok", chat.MessageSend{Content: "working"}); err != nil {
		t.Fatalf("EditInteractionResponse: %v", err)
	}
	if got := (*calls)[0].path; got != "/webhooks/app1/tok/messages/@original" {
		t.Errorf("path = %q", got)
	}
}

func TestMemberAndRoles(t *testing.T) {
	_, c := newServer(t)
	ctx := context.Background()

	m, err := c.Member(ctx, "g", "42")
	if err != nil {
		t.Fatalf("Member: %v", err)
	}
	if m.User.ID != "42" || m.DisplayName() != "alice" {
		t.Errorf("unexpected member %+v", m)
	}

	has, err := c.HasRole(ctx, "g", "42", "r1")
	if err != nil || !has {
		t.Errorf("HasRole = %v, %v", has, err)
	}

	if err := c.GrantRole(ctx, "g", "42", "author"); err != nil {
		t.Errorf("GrantRole: %v", err)
	}
	if err := c.GrantRole(ctx, "g", "42", "admin"); !errors.Is(err, chat.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
	err = c.RevokeRole(ctx, "g", "42", "author")
	if !errors.Is(err, discord.ErrUnexpectedStatus) {
		t.Errorf("expected ErrUnexpectedStatus, got %v", err)
	}
}

func TestNewClient_RequiresHTTPClient(t *testing.T) {
	if _, err := discord.NewClient(discord.ClientConfig{}); err == nil {
		t.Fatal("expected error without HTTPClient")
	}
}

func TestRegisterCommands(t *testing.T) {
	calls, c := newServer(t)

	cmds := []chat.Command{{
		Name:        "validate",
		Description: "Re-sync accounts",
		Options:     []chat.CommandOption{{Type: chat.OptionString, Name: "username", Description: "CI username"}},
	}}
	if err := c.RegisterCommands(context.Background(), "g1", cmds); err != nil {
		t.Fatalf("RegisterCommands: %v", err)
	}
	got := (*calls)[0]
	if got.method != http.MethodPut || got.path != "/applications/app1/guilds/g1/commands" {
		t.Errorf("call = %s %s", got.method, got.path)
	}
	var sent []chat.Command
	if err := json.Unmarshal([]byte(got.body), &sent); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || sent[0].Options[0].Type != chat.OptionString {
		t.Errorf("body = %s", got.body)
	}
}
