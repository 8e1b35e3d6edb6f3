package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type RewardKind string

const (
	RewardCurrency RewardKind = "currency"
	RewardItem     RewardKind = "item"
	RewardBundle   RewardKind = "bundle"
)

// Reward is the payload granted by gift codes and shop items.
type Reward struct {
	Kind RewardKind `json:"kind"`

	Currency string          `json:"currency,omitempty"`
	Amount   decimal.Decimal `json:"amount"`

	ItemID   string `json:"item_id,omitempty"`
	Quantity int    `json:"quantity,omitempty"`

	Items []Reward `json:"items,omitempty"`
}

func (r Reward) Validate() error {
	switch r.Kind {
	case RewardCurrency:
		if strings.TrimSpace(r.Currency) == "" {
			return errors.New("currency reward requires currency")
		}
		if !r.Amount.IsPositive() {
			return errors.New("currency reward requires a positive amount")
		}
	case RewardItem:
		if strings.TrimSpace(r.ItemID) == "" {
			return errors.New("item reward requires item_id")
		}
		if r.Quantity < 1 {
			return errors.New("item reward requires quantity >= 1")
		}
	case RewardBundle:
		if len(r.Items) == 0 {
			return errors.New("bundle reward requires at least one item")
		}
		for i, child := range r.Items {
			if child.Kind == RewardBundle {
				return fmt.Errorf("bundle item %d: nested bundles are not allowed", i)
			}
			if err := child.Validate(); err != nil {
				return fmt.Errorf("bundle item %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown reward kind %q", r.Kind)
	}
	return nil
}

// Flatten returns the leaf grants of r (bundles expanded).
func (r Reward) Flatten() []Reward {
	if r.Kind != RewardBundle {
		return []Reward{r}
	}
	out := make([]Reward, 0, len(r.Items))
	for _, child := range r.Items {
		out = append(out, child.Flatten()...)
	}
	return out
}
