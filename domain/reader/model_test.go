package reader

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/orbitline/sessioncore/domain/session"
)

func TestRateFor(t *testing.T) {
	rates := Rates{
		Chat:  decimal.NewFromInt(1),
		Voice: decimal.NewFromInt(2),
		Video: decimal.NewFromInt(3),
	}

	if rate, ok := rates.RateFor(session.TypeChat); !ok || !rate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("RateFor(chat) = %s, %v", rate, ok)
	}
	if rate, ok := rates.RateFor(session.TypeVideo); !ok || !rate.Equal(decimal.NewFromInt(3)) {
		t.Errorf("RateFor(video) = %s, %v", rate, ok)
	}
	if _, ok := rates.RateFor(session.Type("smoke")); ok {
		t.Error("RateFor should reject unknown session type")
	}
}

func TestEligibleForPayout(t *testing.T) {
	minPayout := decimal.NewFromInt(15)

	cases := []struct {
		name    string
		profile Profile
		want    bool
	}{
		{
			name:    "active and above floor",
			profile: Profile{ExternalAccountStatus: ExternalAccountActive, PendingBalance: decimal.NewFromInt(20)},
			want:    true,
		},
		{
			name:    "active and exactly at floor",
			profile: Profile{ExternalAccountStatus: ExternalAccountActive, PendingBalance: decimal.NewFromInt(15)},
			want:    true,
		},
		{
			name:    "active but below floor",
			profile: Profile{ExternalAccountStatus: ExternalAccountActive, PendingBalance: decimal.NewFromInt(10)},
			want:    false,
		},
		{
			name:    "pending account above floor",
			profile: Profile{ExternalAccountStatus: ExternalAccountPending, PendingBalance: decimal.NewFromInt(20)},
			want:    false,
		},
		{
			name:    "restricted account above floor",
			profile: Profile{ExternalAccountStatus: ExternalAccountRestricted, PendingBalance: decimal.NewFromInt(20)},
			want:    false,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.profile.EligibleForPayout(minPayout); got != c.want {
				t.Errorf("EligibleForPayout() = %v, want %v", got, c.want)
			}
		})
	}
}
