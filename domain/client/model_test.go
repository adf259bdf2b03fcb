package client

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestHasReserve(t *testing.T) {
	rate := decimal.NewFromInt(10)
	cases := []struct {
		balance decimal.Decimal
		want    bool
	}{
		{decimal.NewFromInt(30), true},
		{decimal.NewFromInt(31), true},
		{decimal.NewFromInt(29), false},
		{decimal.Zero, false},
	}
	for _, c := range cases {
		p := Profile{Balance: c.balance}
		if got := p.HasReserve(rate); got != c.want {
			t.Errorf("HasReserve(balance=%s, rate=%s) = %v, want %v", c.balance, rate, got, c.want)
		}
	}
}
