package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarget(t *testing.T) {
	companyID := uuid.MustParse("6f1c1f7e-3a55-4c43-9e57-2f0b8f7e4a10")

	system := SystemTarget()
	assert.Equal(t, ScopeSystem, system.Scope())
	assert.Equal(t, "system", system.GroupKey())
	_, ok := system.CompanyID()
	assert.False(t, ok)
	_, ok = system.UserID()
	assert.False(t, ok)

	company := CompanyTarget(companyID)
	id, ok := company.CompanyID()
	require.True(t, ok)
	assert.Equal(t, companyID, id)
	assert.Equal(t, "company:6f1c1f7e-3a55-4c43-9e57-2f0b8f7e4a10", company.GroupKey())
	_, ok = company.UserID()
	assert.False(t, ok)

	user := UserTarget("u-1")
	uid, ok := user.UserID()
	require.True(t, ok)
	assert.Equal(t, "u-1", uid)
	assert.Equal(t, "user:u-1", user.GroupKey())
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{in: "System", want: ScopeSystem},
		{in: "company", want: ScopeCompany},
		{in: " USER ", want: ScopeUser},
		{in: "tenant", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScope(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobStatusQueued.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
}

func TestJobFormat_Valid(t *testing.T) {
	assert.True(t, JobFormatPDF.Valid())
	assert.True(t, JobFormatXLSX.Valid())
	assert.False(t, JobFormat("csv").Valid())
}

func TestRejection(t *testing.T) {
	err := Rejection("target user is in another company")
	assert.True(t, errors.Is(err, ErrNotificationRejected))
	assert.EqualError(t, err, "notification rejected: target user is in another company")

	err = InvalidParameters("days must be between %d and %d", 1, 30)
	assert.True(t, errors.Is(err, ErrInvalidParameters))
	assert.Contains(t, err.Error(), "days must be between 1 and 30")
}
