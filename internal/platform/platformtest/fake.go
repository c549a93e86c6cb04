// Package platformtest provides an in-memory platform.Platform that records
// every call and can be told to fail specific operations.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"whitelist-bot/internal/platform"
)

// Operation names accepted by Fail.
const (
	OpResolve     = "resolve"
	OpCreate      = "create"
	OpDelete      = "delete"
	OpSendChannel = "send_channel"
	OpSendDirect  = "send_direct"
	OpMember      = "member"
	OpAddRole     = "add_role"
	OpRemoveRole  = "remove_role"
)

// Sent is one recorded outbound message.
type Sent struct {
	Target  string
	Message platform.Message
}

// RoleCall is one recorded role mutation.
type RoleCall struct {
	Op     string
	UserID string
	RoleID string
}

// Fake is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	botID    string
	nextID   int
	channels map[string]platform.TicketSpec
	members  map[string]map[string]bool // user -> roles
	failures map[string]error

	Created      []platform.TicketSpec
	Deleted      []string
	ChannelSends []Sent
	DirectSends  []Sent
	RoleCalls    []RoleCall
}

func New() *Fake {
	return &Fake{
		botID:    "bot",
		channels: make(map[string]platform.TicketSpec),
		members:  make(map[string]map[string]bool),
		failures: make(map[string]error),
	}
}

var _ platform.Platform = (*Fake)(nil)

// AddMember registers userID as a guild member holding roles.
func (f *Fake) AddMember(userID string, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]bool)
	for _, r := range roles {
		set[r] = true
	}
	f.members[userID] = set
}

// AddChannel registers an existing channel.
func (f *Fake) AddChannel(channelID string) {
	f.mu.Lock()
	f.channels[channelID] = platform.TicketSpec{}
	f.mu.Unlock()
}

// RemoveChannel simulates a channel deleted out of band.
func (f *Fake) RemoveChannel(channelID string) {
	f.mu.Lock()
	delete(f.channels, channelID)
	f.mu.Unlock()
}

// Fail makes op return err until Recover(op) is called.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	f.failures[op] = err
	f.mu.Unlock()
}

func (f *Fake) Recover(op string) {
	f.mu.Lock()
	delete(f.failures, op)
	f.mu.Unlock()
}

// Roles returns the roles userID currently holds.
func (f *Fake) Roles(userID string) map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool)
	for r := range f.members[userID] {
		out[r] = true
	}
	return out
}

// HasChannel reports whether channelID exists.
func (f *Fake) HasChannel(channelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.channels[channelID]
	return ok
}

// Snapshot helpers copy the recorded slices under the lock.

func (f *Fake) CreatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Created)
}

func (f *Fake) ChannelMessages(channelID string) []platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []platform.Message
	for _, s := range f.ChannelSends {
		if s.Target == channelID {
			out = append(out, s.Message)
		}
	}
	return out
}

func (f *Fake) DirectMessages(userID string) []platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []platform.Message
	for _, s := range f.DirectSends {
		if s.Target == userID {
			out = append(out, s.Message)
		}
	}
	return out
}

func (f *Fake) RoleCallsSnapshot() []RoleCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RoleCall(nil), f.RoleCalls...)
}

func (f *Fake) DeletedSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Deleted...)
}

func (f *Fake) BotUserID() string { return f.botID }

func (f *Fake) ResolveChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(ctx, OpResolve); err != nil {
		return err
	}
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	return nil
}

func (f *Fake) CreateTicketChannel(ctx context.Context, spec platform.TicketSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(ctx, OpCreate); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("chan-%d", f.nextID)
	f.channels[id] = spec
	f.Created = append(f.Created, spec)
	return id, nil
}

func (f *Fake) DeleteChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(ctx, OpDelete); err != nil {
		return err
	}
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	delete(f.channels, channelID)
	f.Deleted = append(f.Deleted, channelID)
	return nil
}

func (f *Fake) SendToChannel(ctx context.Context, channelID string, msg platform.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(ctx, OpSendChannel); err != nil {
		return err
	}
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	f.ChannelSends = append(f.ChannelSends, Sent{Target: channelID, Message: msg})
	return nil
}

func (f *Fake) SendDirect(ctx context.Context, userID string, msg platform.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(ctx, OpSendDirect); err != nil {
		return err
	}
	f.DirectSends = append(f.DirectSends, Sent{Target: userID, Message: msg})
	return nil
}

func (f *Fake) MemberExists(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(ctx, OpMember); err != nil {
		return false, err
	}
	_, ok := f.members[userID]
	return ok, nil
}

func (f *Fake) AddRole(ctx context.Context, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RoleCalls = append(f.RoleCalls, RoleCall{Op: "add", UserID: userID, RoleID: roleID})
	if err := f.failure(ctx, OpAddRole); err != nil {
		return err
	}
	roles, ok := f.members[userID]
	if !ok {
		return platform.ErrNotFound
	}
	roles[roleID] = true
	return nil
}

func (f *Fake) RemoveRole(ctx context.Context, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RoleCalls = append(f.RoleCalls, RoleCall{Op: "remove", UserID: userID, RoleID: roleID})
	if err := f.failure(ctx, OpRemoveRole); err != nil {
		return err
	}
	roles, ok := f.members[userID]
	if !ok {
		return platform.ErrNotFound
	}
	delete(roles, roleID)
	return nil
}

// failure must be called with f.mu held.
func (f *Fake) failure(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.failures[op]
}
