package paywall

import (
	"github.com/xraph/paywall/id"
	"github.com/xraph/paywall/types"
)

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// ID is the identifier type for subscriptions, purchases and entries.
type ID = id.ID

// Re-export Money constructors
var (
	USD        = types.USD
	EUR        = types.EUR
	GBP        = types.GBP
	Zero       = types.Zero
	ParseMajor = types.ParseMajor
)
