package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"whitelist-bot/internal/common/logger"
	"whitelist-bot/internal/common/metrics"
	"whitelist-bot/internal/platform"
)

// Guild is the subset of the platform the synchronizer needs.
type Guild interface {
	MemberExists(ctx context.Context, userID string) (bool, error)
	AddRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
}

// ErrMemberUnresolved is reported when the candidate is not in the guild.
var ErrMemberUnresolved = errors.New("member not resolvable in guild")

// OpFailure is one failed add or remove.
type OpFailure struct {
	Op     string
	RoleID string
	Err    error
}

// Outcome reports what Apply managed to do.
type Outcome struct {
	Resolved bool
	Applied  []string // "add:<role>" / "remove:<role>"
	Failed   []OpFailure
}

// OK reports whether the member was resolved and every op succeeded.
func (o Outcome) OK() bool {
	return o.Resolved && len(o.Failed) == 0
}

// Err summarizes the outcome as an error, or nil when OK.
func (o Outcome) Err() error {
	if !o.Resolved {
		return ErrMemberUnresolved
	}
	if len(o.Failed) == 0 {
		return nil
	}
	parts := make([]string, len(o.Failed))
	for i, f := range o.Failed {
		parts[i] = fmt.Sprintf("%s %s: %v", f.Op, f.RoleID, f.Err)
	}
	return fmt.Errorf("role sync partially failed: %s", strings.Join(parts, "; "))
}

// Synchronizer applies Changes to guild members.
type Synchronizer struct {
	guild  Guild
	logger logger.Logger
}

func NewSynchronizer(guild Guild, log logger.Logger) *Synchronizer {
	return &Synchronizer{guild: guild, logger: logger.Component(log, "roles")}
}

// Apply removes then adds roles for candidateID. Each op is attempted
// independently. A missing member is logged and reported, never fatal.
func (s *Synchronizer) Apply(ctx context.Context, candidateID, reason string, change Change) Outcome {
	log := s.logger.WithFields(map[string]interface{}{
		"candidateId": candidateID,
		"context":     reason,
	})

	if change.Empty() {
		return Outcome{Resolved: true}
	}

	exists, err := s.guild.MemberExists(ctx, candidateID)
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		log.Warn("member lookup failed", map[string]interface{}{"error": err.Error()})
		return Outcome{Resolved: false}
	}
	if !exists {
		log.Warn("member not found in guild", nil)
		return Outcome{Resolved: false}
	}

	out := Outcome{Resolved: true}
	for _, role := range change.Remove {
		s.do(&out, "remove", role, func() error { return s.guild.RemoveRole(ctx, candidateID, role) })
	}
	for _, role := range change.Add {
		s.do(&out, "add", role, func() error { return s.guild.AddRole(ctx, candidateID, role) })
	}

	if out.OK() {
		log.Info("roles applied", map[string]interface{}{
			"add":    change.Add.Sorted(),
			"remove": change.Remove.Sorted(),
		})
	} else {
		log.Warn("roles partially applied", map[string]interface{}{
			"applied": out.Applied,
			"error":   out.Err().Error(),
		})
	}
	return out
}

func (s *Synchronizer) do(out *Outcome, op, role string, call func() error) {
	if err := call(); err != nil {
		metrics.RoleOperations.WithLabelValues(op, "error").Inc()
		out.Failed = append(out.Failed, OpFailure{Op: op, RoleID: role, Err: err})
		return
	}
	metrics.RoleOperations.WithLabelValues(op, "ok").Inc()
	out.Applied = append(out.Applied, op+":"+role)
}
