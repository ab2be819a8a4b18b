package exceptions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var evalTime = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestRegistry_Waived(t *testing.T) {
	tests := []struct {
		name   string
		entry  Entry
		waived bool
	}{
		{
			name: "valid entry waives",
			entry: Entry{
				ViolationKind: "iam-wildcard",
				Owner:         "platform-team",
				TicketRef:     "OPS-1234",
				ExpiresAt:     evalTime.Add(24 * time.Hour),
			},
			waived: true,
		},
		{
			name: "blank owner never waives",
			entry: Entry{
				ViolationKind: "iam-wildcard",
				Owner:         "   ",
				TicketRef:     "OPS-1234",
				ExpiresAt:     evalTime.Add(24 * time.Hour),
			},
			waived: false,
		},
		{
			name: "blank ticket never waives",
			entry: Entry{
				ViolationKind: "iam-wildcard",
				Owner:         "platform-team",
				TicketRef:     "",
				ExpiresAt:     evalTime.Add(24 * time.Hour),
			},
			waived: false,
		},
		{
			name: "expiry at evaluation time is expired",
			entry: Entry{
				ViolationKind: "iam-wildcard",
				Owner:         "platform-team",
				TicketRef:     "OPS-1234",
				ExpiresAt:     evalTime,
			},
			waived: false,
		},
		{
			name: "one second before expiry still waives",
			entry: Entry{
				ViolationKind: "iam-wildcard",
				Owner:         "platform-team",
				TicketRef:     "OPS-1234",
				ExpiresAt:     evalTime.Add(time.Second),
			},
			waived: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := New([]Entry{tt.entry})
			require.NoError(t, err)
			assert.Equal(t, tt.waived, reg.Waived("iam-wildcard", evalTime))
		})
	}
}

func TestRegistry_LatestExpiryWins(t *testing.T) {
	early := Entry{ViolationKind: "bulk-pii", Owner: "a", TicketRef: "T-1", ExpiresAt: evalTime.Add(time.Hour)}
	late := Entry{ViolationKind: "bulk-pii", Owner: "b", TicketRef: "T-2", ExpiresAt: evalTime.Add(48 * time.Hour)}

	reg, err := New([]Entry{early, late})
	require.NoError(t, err)

	entry, ok := reg.ActiveEntry("bulk-pii", evalTime)
	require.True(t, ok)
	assert.Equal(t, "T-2", entry.TicketRef)

	// All expired: the violation is active again.
	reg, err = New([]Entry{
		{ViolationKind: "bulk-pii", Owner: "a", TicketRef: "T-1", ExpiresAt: evalTime.Add(-time.Hour)},
		{ViolationKind: "bulk-pii", Owner: "b", TicketRef: "T-2", ExpiresAt: evalTime.Add(-time.Minute)},
	})
	require.NoError(t, err)
	assert.False(t, reg.Waived("bulk-pii", evalTime))
}

func TestRegistry_Load(t *testing.T) {
	src := `
exceptions:
  - violationId: iam-wildcard
    owner: platform-team
    ticketRef: OPS-1234
    expiresAt: 2026-09-30T00:00:00Z
  - violationId: bulk-pii
    owner: data-office
    ticketRef: DATA-88
    expiresAt: 2026-09-01T00:00:00Z
`
	reg, err := Load([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
	assert.True(t, reg.Waived("iam-wildcard", evalTime))
	assert.False(t, reg.Waived("unknown-kind", evalTime))
}

func TestRegistry_LoadErrors(t *testing.T) {
	_, err := Load(nil)
	assert.Error(t, err)

	_, err = Load([]byte("exceptions: [{owner: x, ticketRef: y, expiresAt: 2026-09-30T00:00:00Z}]"))
	assert.Error(t, err, "entry without a violation kind must be rejected")

	_, err = Load([]byte("exceptions: [{violationId: k, owner: x, ticketRef: y}]"))
	assert.Error(t, err, "entry without an expiry must be rejected")

	_, err = Load([]byte("exceptions: ["))
	assert.Error(t, err, "truncated YAML must be rejected")
}

func TestRegistry_Empty(t *testing.T) {
	reg := Empty()
	assert.Equal(t, 0, reg.Len())
	assert.False(t, reg.Waived("anything", evalTime))
}
