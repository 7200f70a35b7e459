package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// ActionSettings holds one bank action's admission gates.
type ActionSettings struct {
	Enabled  bool
	MinAge   int
	MinPrice decimal.Decimal
}

// Bank is one decoded provider configuration.
type Bank struct {
	Name    string
	Active  bool
	Actions map[storage.Action]ActionSettings
}

// DecodeBank converts one stored bank row, parsing its price fields.
// An unparsable price degrades to zero so a single bad row never hides the
// bank from listings.
func DecodeBank(record storage.BankRecord) (Bank, error) {
	registerPrice, registerErr := parsePrice(record.RegisterMinPrice)
	changePrice, changeErr := parsePrice(record.ChangeMinPrice)

	bank := Bank{
		Name:   record.Name,
		Active: record.Active,
		Actions: map[storage.Action]ActionSettings{
			storage.ActionRegister: {
				Enabled:  record.RegisterEnabled,
				MinAge:   record.RegisterMinAge,
				MinPrice: registerPrice,
			},
			storage.ActionChange: {
				Enabled:  record.ChangeEnabled,
				MinAge:   record.ChangeMinAge,
				MinPrice: changePrice,
			},
		},
	}
	if registerErr != nil {
		return bank, fmt.Errorf("bank %s register price: %w", record.Name, registerErr)
	}
	if changeErr != nil {
		return bank, fmt.Errorf("bank %s change price: %w", record.Name, changeErr)
	}
	return bank, nil
}

// ActionEnabled reports whether one workflow kind is open on this bank.
func (b Bank) ActionEnabled(action storage.Action) bool {
	settings, ok := b.Actions[action]
	return ok && settings.Enabled
}

func parsePrice(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	price, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}
	return price, nil
}
