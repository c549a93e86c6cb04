package messages

import (
	"strings"
	"testing"
	"time"

	"whitelist-bot/internal/application"
	"whitelist-bot/internal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixed = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func newBuilder() *Builder {
	return NewBuilder("District", "staff-role").WithClock(func() time.Time { return fixed })
}

func TestTicketIntro(t *testing.T) {
	app := &application.Application{
		CandidateID: "123456",
		Profile:     application.Profile{DisplayName: "Rook"},
		Score:       18,
		FormFields: map[string]interface{}{
			application.FieldBackstory: strings.Repeat("x", 3000),
		},
	}

	msg := newBuilder().TicketIntro(app)
	assert.Equal(t, "<@&staff-role> New whitelist application", msg.Content)
	require.Len(t, msg.Components, 1)
	assert.Equal(t, "close_ticket:123456", msg.Components[0].CustomID)
	assert.Equal(t, platform.ButtonDanger, msg.Components[0].Style)

	require.NotNil(t, msg.Embed)
	assert.Equal(t, platform.DefaultAvatarURL, msg.Embed.AuthorIcon)
	assert.Equal(t, fixed, msg.Embed.Timestamp)
	for _, f := range msg.Embed.Fields {
		assert.LessOrEqual(t, len([]rune(f.Value)), maxFieldValue, f.Name)
		assert.NotEmpty(t, f.Value, f.Name)
	}
}

func TestTicketIntro_NoStaffRole(t *testing.T) {
	msg := NewBuilder("District", "").TicketIntro(&application.Application{CandidateID: "1"})
	assert.Equal(t, "New whitelist application", msg.Content)
}

func TestRelayEmbeds(t *testing.T) {
	b := newBuilder()

	reply := b.CandidateReply("Rook", "", "  ")
	assert.Equal(t, EmptyContent, reply.Embed.Description)
	assert.Equal(t, "Rook - Candidate", reply.Embed.AuthorName)

	sent := fixed.Add(-time.Minute)
	staff := b.StaffMessage("Mod", "https://cdn/m.png", "hello", sent)
	assert.Equal(t, "hello", staff.Embed.Description)
	assert.Equal(t, sent, staff.Embed.Timestamp)
	assert.Equal(t, "https://cdn/m.png", staff.Embed.AuthorIcon)

	assert.Equal(t, fixed, b.StaffMessage("Mod", "", "x", time.Time{}).Embed.Timestamp)
}

func TestOutcomeDMs(t *testing.T) {
	b := newBuilder()
	app := &application.Application{
		CandidateID: "1",
		Profile:     application.Profile{DisplayName: "Rook"},
		Score:       17,
		FormFields: map[string]interface{}{
			application.FieldCharacterFirstName: "Jack",
			application.FieldCharacterLastName:  "Doe",
		},
	}

	approved := b.Approved(app)
	assert.Equal(t, platform.ColorSuccess, approved.Embed.Color)
	assert.Contains(t, approved.Embed.Description, "Jack Doe")
	assert.Contains(t, approved.Embed.Description, "17")

	rejected := b.Rejected("spam")
	assert.Contains(t, rejected.Embed.Description, "**Reason:** spam")
	assert.Contains(t, rejected.Embed.Description, "District")
}
