package domain

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

func TestDecodeBankParsesPrices(t *testing.T) {
	bank, err := DecodeBank(storage.BankRecord{
		Name:             "mono",
		Active:           true,
		RegisterEnabled:  true,
		RegisterMinAge:   18,
		RegisterMinPrice: "150.50",
		ChangeEnabled:    false,
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	register := bank.Actions[storage.ActionRegister]
	if !register.MinPrice.Equal(decimal.RequireFromString("150.50")) {
		t.Fatalf("unexpected register price %s", register.MinPrice)
	}
	if !bank.ActionEnabled(storage.ActionRegister) {
		t.Fatal("expected register enabled")
	}
	if bank.ActionEnabled(storage.ActionChange) {
		t.Fatal("expected change disabled")
	}
}

func TestDecodeBankBadPriceDegradesToZero(t *testing.T) {
	bank, err := DecodeBank(storage.BankRecord{
		Name:             "mono",
		Active:           true,
		RegisterEnabled:  true,
		RegisterMinPrice: "not-a-number",
	})
	if err == nil {
		t.Fatal("expected warning for bad price")
	}
	if !bank.Actions[storage.ActionRegister].MinPrice.IsZero() {
		t.Fatalf("expected zero price, got %s", bank.Actions[storage.ActionRegister].MinPrice)
	}
	if bank.Name != "mono" {
		t.Fatalf("unexpected bank %+v", bank)
	}
}
