package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTicketChannelName(t *testing.T) {
	tests := []struct {
		display, id, want string
	}{
		{"Rook", "123456789", "wl-rook-6789"},
		{"Jean Dupont!", "42", "wl-jean-dupont--42"},
		{"", "99990000", "wl-candidate-0000"},
		{"AVeryLongDisplayNameThatKeepsGoing", "111122223333", "wl-averylongdisplayname-3333"},
		{"Éric", "5555", "wl--ric-5555"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, TicketChannelName(tt.display, tt.id))
		})
	}
}

func TestCloseTicketID(t *testing.T) {
	id := CloseTicketID("A1")
	assert.Equal(t, "close_ticket:A1", id)

	got, ok := ParseCloseTicketID(id)
	assert.True(t, ok)
	assert.Equal(t, "A1", got)

	_, ok = ParseCloseTicketID("close_ticket:")
	assert.False(t, ok)
	_, ok = ParseCloseTicketID("other:A1")
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "ééé...", Truncate("éééééééé", 6))
}
