package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNetAmount(t *testing.T) {
	tx := Transaction{Amount: decimal.NewFromInt(100), Fee: decimal.NewFromInt(30)}
	want := decimal.NewFromInt(70)
	if got := tx.NetAmount(); !got.Equal(want) {
		t.Errorf("NetAmount() = %s, want %s", got, want)
	}
}
