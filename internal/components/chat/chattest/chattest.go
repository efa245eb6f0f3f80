// Package chattest provides an in-memory chat.Platform and chat.RoleGateway.
package chattest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/CodeMC/bot/internal/components/chat"
)

// Sent is a message posted through SendMessage.
type Sent struct {
	ChannelID string
	Message   chat.MessageSend
}

// Platform is an in-memory chat.Platform. Injected errors are returned
// unwrapped so tests can use chat.ErrNotFound and chat.ErrPermissionDenied.
type Platform struct {
	mu               sync.Mutex
	messages         map[string]map[string]*chat.Message
	channels         map[string]*chat.Channel
	members          map[string]map[string]*chat.Member
	archived         map[string]bool
	sent             []Sent
	interactionEdits map[string][]chat.MessageSend
	calls            map[string]int
	fail             map[string]error
	nextID           int
}

// NewPlatform returns an empty Platform.
func NewPlatform() *Platform {
	return &Platform{
		messages:         make(map[string]map[string]*chat.Message),
		channels:         make(map[string]*chat.Channel),
		members:          make(map[string]map[string]*chat.Member),
		archived:         make(map[string]bool),
		interactionEdits: make(map[string][]chat.MessageSend),
		calls:            make(map[string]int),
		fail:             make(map[string]error),
		nextID:           1000,
	}
}

// AddChannel registers a channel.
func (p *Platform) AddChannel(id, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[id] = &chat.Channel{ID: id, Name: name}
}

// AddMessage stores msg in channelID under msg.ID.
func (p *Platform) AddMessage(channelID string, msg chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.messages[channelID] == nil {
		p.messages[channelID] = make(map[string]*chat.Message)
	}
	msg.ChannelID = channelID
	p.messages[channelID][msg.ID] = &msg
}

// AddMember registers a guild member.
func (p *Platform) AddMember(guildID string, m chat.Member) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members[guildID] == nil {
		p.members[guildID] = make(map[string]*chat.Member)
	}
	p.members[guildID][m.User.ID] = &m
}

// FailOn makes every later call to method return err. A nil err clears it.
func (p *Platform) FailOn(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.fail, method)
		return
	}
	p.fail[method] = err
}

// Calls returns how often method was called.
func (p *Platform) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// HasMessage reports whether a message is still present.
func (p *Platform) HasMessage(channelID, messageID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.messages[channelID][messageID]
	return ok
}

// Archived reports whether a thread was archived through ArchiveThread.
func (p *Platform) Archived(threadID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.archived[threadID]
}

// Sent returns every message posted so far.
func (p *Platform) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Sent, len(p.sent))
	copy(out, p.sent)
	return out
}

// InteractionEdits returns the edits applied to an interaction response.
func (p *Platform) InteractionEdits(token string) []chat.MessageSend {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]chat.MessageSend, len(p.interactionEdits[token]))
	copy(out, p.interactionEdits[token])
	return out
}

func (p *Platform) hit(method string) error {
	p.calls[method]++
	return p.fail[method]
}

func (p *Platform) FetchMessage(ctx context.Context, channelID, messageID string) (*chat.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit("FetchMessage"); err != nil {
		return nil, err
	}
	m, ok := p.messages[channelID][messageID]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", chat.ErrNotFound, messageID)
	}
	cp := *m
	if m.Thread != nil {
		th := *m.Thread
		if p.archived[th.ID] {
			th.Metadata = &chat.ThreadMetadata{Archived: true}
		}
		cp.Thread = &th
	}
	return &cp, nil
}

func (p *Platform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit("DeleteMessage"); err != nil {
		return err
	}
	if _, ok := p.messages[channelID][messageID]; !ok {
		return fmt.Errorf("%w: message %s", chat.ErrNotFound, messageID)
	}
	delete(p.messages[channelID], messageID)
	return nil
}

func (p *Platform) ArchiveThread(ctx context.Context, threadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit("ArchiveThread"); err != nil {
		return err
	}
	p.archived[threadID] = true
	return nil
}

func (p *Platform) Channel(ctx context.Context, channelID string) (*chat.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit("Channel"); err != nil {
		return nil, err
	}
	ch, ok := p.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("%w: channel %s", chat.ErrNotFound, channelID)
	}
	cp := *ch
	return &cp, nil
}

func (p *Platform) SendMessage(ctx context.Context, channelID string, msg chat.MessageSend) (*chat.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit("SendMessage"); err != nil {
		return nil, err
	}
	if _, ok := p.channels[channelID]; !ok {
		return nil, fmt.Errorf("%w: channel %s", chat.ErrNotFound, channelID)
	}
	p.nextID++
	id := strconv.Itoa(p.nextID)
	p.sent = append(p.sent, Sent{ChannelID: channelID, Message: msg})
	if p.messages[channelID] == nil {
		p.messages[channelID] = make(map[string]*chat.Message)
	}
	stored := &chat.Message{ID: id, ChannelID: channelID, Content: msg.Content, Embeds: msg.Embeds}
	p.messages[channelID][id] = stored
	cp := *stored
	return &cp, nil
}

func (p *Platform) EditMessage(ctx context.Context, channelID, messageID string, msg chat.MessageSend) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit("EditMessage"); err != nil {
		return err
	}
	m, ok := p.messages[channelID][messageID]
	if !ok {
		return fmt.Errorf("%w: message %s", chat.ErrNotFound, messageID)
	}
	m.Content = msg.Content
	m.Embeds = msg.Embeds
	return nil
}

func (p *Platform) EditInteractionResponse(ctx context.Context, token string, msg chat.MessageSend) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit("EditInteractionResponse"); err != nil {
		return err
	}
	p.interactionEdits[token] = append(p.interactionEdits[token], msg)
	return nil
}

func (p *Platform) Member(ctx context.Context, guildID, userID string) (*chat.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hit("Member"); err != nil {
		return nil, err
	}
	m, ok := p.members[guildID][userID]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", chat.ErrNotFound, userID)
	}
	cp := *m
	cp.Roles = append([]string(nil), m.Roles...)
	return &cp, nil
}

// Roles is an in-memory chat.RoleGateway keyed by guild and member.
type Roles struct {
	mu    sync.Mutex
	roles map[string]map[string]bool // guild/member -> role set
	calls map[string]int
	fail  map[string]error
}

// NewRoles returns an empty Roles gateway.
func NewRoles() *Roles {
	return &Roles{
		roles: make(map[string]map[string]bool),
		calls: make(map[string]int),
		fail:  make(map[string]error),
	}
}

// FailOn makes every later call to method return err. A nil err clears it.
func (r *Roles) FailOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, method)
		return
	}
	r.fail[method] = err
}

// Calls returns how often method was called.
func (r *Roles) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

// Holds reports whether the member currently has the role.
func (r *Roles) Holds(guildID, memberID, roleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roles[guildID+"/"+memberID][roleID]
}

func (r *Roles) GrantRole(ctx context.Context, guildID, memberID, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["GrantRole"]++
	if err := r.fail["GrantRole"]; err != nil {
		return err
	}
	key := guildID + "/" + memberID
	if r.roles[key] == nil {
		r.roles[key] = make(map[string]bool)
	}
	r.roles[key][roleID] = true
	return nil
}

func (r *Roles) RevokeRole(ctx context.Context, guildID, memberID, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["RevokeRole"]++
	if err := r.fail["RevokeRole"]; err != nil {
		return err
	}
	delete(r.roles[guildID+"/"+memberID], roleID)
	return nil
}

func (r *Roles) HasRole(ctx context.Context, guildID, memberID, roleID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["HasRole"]++
	if err := r.fail["HasRole"]; err != nil {
		return false, err
	}
	return r.roles[guildID+"/"+memberID][roleID], nil
}

var (
	_ chat.Platform    = (*Platform)(nil)
	_ chat.RoleGateway = (*Roles)(nil)
)
