package effects

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport(t *testing.T) {
	var r Report
	r.StateChanged = true
	cause := errors.New("platform unavailable")

	assert.NoError(t, r.Record("ticket.create", nil))
	assert.ErrorIs(t, r.Record("dm.confirmation", cause), cause)
	r.Skip("ticket.intro", cause)

	assert.False(t, r.OK())
	assert.Equal(t, []string{"dm.confirmation", "ticket.intro"}, r.Failed())

	e, ok := r.Effect("ticket.intro")
	require.True(t, ok)
	assert.ErrorIs(t, e.Err, cause)
	assert.Equal(t, "ticket.create=ok dm.confirmation=failed ticket.intro=failed", r.String())
}

func TestReport_MarshalJSON(t *testing.T) {
	r := Report{StateChanged: true}
	r.Record("roles", nil)
	r.Record("dm.outcome", errors.New("dm closed"))

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"stateChanged": true,
		"complete": false,
		"sideEffects": [
			{"name": "roles", "ok": true},
			{"name": "dm.outcome", "ok": false, "error": "dm closed"}
		]
	}`, string(raw))

	empty, err := json.Marshal(Report{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"stateChanged": false, "complete": true, "sideEffects": []}`, string(empty))
}
