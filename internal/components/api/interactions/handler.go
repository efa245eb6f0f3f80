// Package interactions serves the chat platform's interaction webhook:
// reviewer commands, the accept and deny buttons on join requests and the
// deny reason modal.
package interactions

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CodeMC/bot/internal/appctx"
	"github.com/CodeMC/bot/internal/components/api"
	"github.com/CodeMC/bot/internal/components/chat"
	"github.com/CodeMC/bot/internal/components/commands"
	"github.com/CodeMC/bot/internal/components/provisioning"
	"github.com/CodeMC/bot/internal/platform/cache"
	"github.com/CodeMC/bot/internal/platform/logutil"
)

// maxContent is the longest message content the platform accepts.
const maxContent = 2000

// Handler answers interactions. Long-running work is acknowledged with a
// deferred response and reported through interaction response edits.
type Handler struct {
	commands *commands.Service
	chat     chat.Platform
	dedup    cache.Cache
	ttl      time.Duration
	log      *slog.Logger
	wg       sync.WaitGroup
}

// NewHandler creates a Handler. Interaction ids are remembered in dedup for
// ttl so redelivered interactions run once.
func NewHandler(svc *commands.Service, platform chat.Platform, dedup cache.Cache, ttl time.Duration, log *slog.Logger) *Handler {
	return &Handler{
		commands: svc,
		chat:     platform,
		dedup:    dedup,
		ttl:      ttl,
		log:      logutil.NoopIfNil(log),
	}
}

// Wait blocks until all background work has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// HandleInteraction handles POST /interactions. The body must already be
// signature-verified.
func (h *Handler) HandleInteraction(w http.ResponseWriter, r *http.Request) {
	// Edits to the original response must not reach the platform before it
	// has received the acknowledgement, so they wait on ack.
	ack := newAckGate()
	defer ack.open()

	var in Interaction
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid interaction payload")
		return
	}

	if in.Type == TypePing {
		writeResponse(w, Response{Type: ResponsePong})
		return
	}

	log := appctx.GetLogger(r.Context()).With(
		"interaction_id", in.ID,
		"interaction_type", in.Type,
		"invoker", in.Invoker().ID,
	)
	ctx := appctx.WithLogger(r.Context(), log)

	if h.dedup != nil && in.ID != "" {
		fresh, err := h.dedup.Add(ctx, "interaction:"+in.ID, []byte{1}, h.ttl)
		if err != nil {
			log.Warn("interaction de-duplication unavailable", "error", err)
		} else if !fresh {
			log.Info("duplicate interaction ignored")
			writeResponse(w, ephemeral("This interaction was already handled."))
			return
		}
	}

	switch in.Type {
	case TypeApplicationCommand:
		var data CommandData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			api.WriteBadRequest(w, api.ReasonInvalidField, "invalid command data")
			return
		}
		h.handleCommand(ctx, w, ack, &in, data)
	case TypeMessageComponent:
		var data ComponentData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			api.WriteBadRequest(w, api.ReasonInvalidField, "invalid component data")
			return
		}
		h.handleComponent(ctx, w, ack, &in, data)
	case TypeModalSubmit:
		var data ModalData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			api.WriteBadRequest(w, api.ReasonInvalidField, "invalid modal data")
			return
		}
		h.handleModal(ctx, w, ack, &in, data)
	default:
		api.WriteBadRequest(w, api.ReasonInvalidField, "unsupported interaction type")
	}
}

func (h *Handler) handleCommand(ctx context.Context, w http.ResponseWriter, ack *ackGate, in *Interaction, data CommandData) {
	appctx.GetLogger(ctx).Info("command received", "command", data.Name)

	var run func(context.Context) string
	switch data.Name {
	case "link":
		run = func(ctx context.Context) string {
			return h.commands.Link(ctx, data.String("member"), data.String("username"))
		}
	case "unlink":
		run = func(ctx context.Context) string {
			return h.commands.Unlink(ctx, data.String("member"), data.String("username"))
		}
	case "validate":
		run = func(ctx context.Context) string { return h.commands.Validate(ctx, data.String("username")) }
	case "createuser":
		run = func(ctx context.Context) string {
			return h.commands.CreateUser(ctx, data.String("member"), data.String("username"))
		}
	case "deleteuser":
		run = func(ctx context.Context) string { return h.commands.DeleteUser(ctx, data.String("username")) }
	case "changepassword":
		run = func(ctx context.Context) string { return h.commands.ChangePassword(ctx, data.String("username")) }
	case "info":
		run = func(ctx context.Context) string {
			return h.commands.Info(ctx, data.String("username"), data.String("job"))
		}
	case "accept":
		h.decide(ctx, w, ack, in, data.String("message_id"), provisioning.Accept{ProjectRef: data.String("project")})
		return
	case "deny":
		reason := data.String("reason")
		if reason == "" {
			writeResponse(w, ephemeral("A reason is required."))
			return
		}
		h.decide(ctx, w, ack, in, data.String("message_id"), provisioning.Deny{Reason: reason})
		return
	default:
		writeResponse(w, ephemeral("Unknown command "+data.Name+"."))
		return
	}

	writeResponse(w, deferred())
	h.background(ctx, func(ctx context.Context) {
		reply := run(ctx)
		ack.wait()
		h.edit(ctx, in.Token, reply)
	})
}

func (h *Handler) handleComponent(ctx context.Context, w http.ResponseWriter, ack *ackGate, in *Interaction, data ComponentData) {
	switch {
	case strings.HasPrefix(data.CustomID, acceptPrefix):
		h.decide(ctx, w, ack, in, strings.TrimPrefix(data.CustomID, acceptPrefix), provisioning.Accept{})
	case strings.HasPrefix(data.CustomID, denyPrefix):
		writeResponse(w, denyModal(strings.TrimPrefix(data.CustomID, denyPrefix)))
	default:
		writeResponse(w, ephemeral("Unknown button."))
	}
}

func (h *Handler) handleModal(ctx context.Context, w http.ResponseWriter, ack *ackGate, in *Interaction, data ModalData) {
	if !strings.HasPrefix(data.CustomID, denyModalPrefix) {
		writeResponse(w, ephemeral("Unknown form."))
		return
	}
	reason := data.Value(reasonInputID)
	if reason == "" {
		writeResponse(w, ephemeral("A reason is required."))
		return
	}
	h.decide(ctx, w, ack, in, strings.TrimPrefix(data.CustomID, denyModalPrefix), provisioning.Deny{Reason: reason})
}

// decide starts the provisioning workflow and streams its progress into the
// interaction response. Progress edits are held until ack opens.
func (h *Handler) decide(ctx context.Context, w http.ResponseWriter, ack *ackGate, in *Interaction, messageID string, d provisioning.Decision) {
	if messageID == "" {
		writeResponse(w, ephemeral("A join request message id is required."))
		return
	}

	token := in.Token
	inv := provisioning.Invocation{
		OriginMessageID: messageID,
		Reviewer:        in.Invoker(),
		Decision:        d,
		Progress: provisioning.ProgressFunc(func(ctx context.Context, o *provisioning.Outcome) {
			ack.wait()
			h.edit(ctx, token, o.Render())
		}),
	}

	done, err := h.commands.Decide(ctx, inv)
	if err != nil {
		appctx.GetLogger(ctx).Error("could not start provisioning", "error", err)
		writeResponse(w, ephemeral("Provisioning is unavailable."))
		return
	}
	writeResponse(w, deferred())
	h.background(ctx, func(context.Context) { <-done })
}

// background runs fn detached from the request's cancellation.
func (h *Handler) background(ctx context.Context, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn(ctx)
	}()
}

func (h *Handler) edit(ctx context.Context, token, content string) {
	if err := h.chat.EditInteractionResponse(ctx, token, chat.MessageSend{Content: truncate(content)}); err != nil {
		appctx.GetLogger(ctx).Warn("could not edit interaction response", "error", err)
	}
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxContent {
		return s
	}
	return string(r[:maxContent-1]) + "…"
}

func ephemeral(content string) Response {
	return Response{Type: ResponseChannelMessage, Data: &ResponseData{Content: content, Flags: FlagEphemeral}}
}

func deferred() Response {
	return Response{Type: ResponseDeferredChannelMessage, Data: &ResponseData{Flags: FlagEphemeral}}
}

func denyModal(messageID string) Response {
	return Response{
		Type: ResponseModal,
		Data: &ResponseData{
			CustomID: denyModalPrefix + messageID,
			Title:    "Deny join request",
			Components: []ActionRow{{
				Type: ComponentActionRow,
				Components: []Component{{
					Type:      ComponentTextInput,
					CustomID:  reasonInputID,
					Label:     "Reason",
					Style:     TextInputParagraph,
					Required:  true,
					MaxLength: 1000,
				}},
			}},
		},
	}
}

// writeResponse sends resp with an explicit length and flushes it, so the
// response is complete on the wire before the handler returns.
func writeResponse(w http.ResponseWriter, resp Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		api.WriteInternalError(w, "could not encode response")
		return
	}
	body = append(body, '\n')
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Write(body)
	http.NewResponseController(w).Flush()
}

// ackGate blocks response edits until the initial response has been sent.
type ackGate struct {
	ch   chan struct{}
	once sync.Once
}

func newAckGate() *ackGate {
	return &ackGate{ch: make(chan struct{})}
}

func (g *ackGate) open() {
	g.once.Do(func() { close(g.ch) })
}

func (g *ackGate) wait() {
	<-g.ch
}
