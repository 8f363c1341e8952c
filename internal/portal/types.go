package portal

import (
	"strconv"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindOrder Kind = "order"
	KindQuote Kind = "quote"
)

func (k Kind) Valid() bool {
	return k == KindOrder || k == KindQuote
}

// CartLineEntry is the runtime shape of a cart line. The persisted shape keeps
// numeric fields as strings for tolerance across schema versions; only the
// normalizer converts between the two.
type CartLineEntry struct {
	ID                  string
	PartNumber          string
	Name                string
	Description         string
	UnitPrice           decimal.Decimal
	Quantity            int
	Image               string
	RequiresHardwareRef string
	Notes               string
}

func (e CartLineEntry) Identity() string {
	if e.PartNumber != "" {
		return e.PartNumber
	}
	return e.ID
}

func (e CartLineEntry) Matches(identifier string) bool {
	if identifier == "" {
		return false
	}
	return e.PartNumber == identifier || e.ID == identifier
}

func (e CartLineEntry) LineTotal() decimal.Decimal {
	return e.UnitPrice.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

type PersistedCartEntry struct {
	ID               string `json:"id"`
	PartNumber       string `json:"partnumber"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	UnitPrice        string `json:"price"`
	Quantity         string `json:"qty"`
	RequiresHardware string `json:"requiresHardware,omitempty"`
	Image            string `json:"image,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

func (e CartLineEntry) ToPersisted() PersistedCartEntry {
	id := e.ID
	if id == "" {
		id = e.PartNumber
	}
	hardware := e.RequiresHardwareRef
	if hardware == "" {
		hardware = e.PartNumber
	}
	return PersistedCartEntry{
		ID:               id,
		PartNumber:       e.PartNumber,
		Name:             e.Name,
		Description:      e.Description,
		UnitPrice:        e.UnitPrice.StringFixed(2),
		Quantity:         strconv.Itoa(e.Quantity),
		RequiresHardware: hardware,
		Image:            e.Image,
		Notes:            e.Notes,
	}
}

type Product struct {
	ID                  string
	PartNumber          string
	Name                string
	Category            string
	Description         string
	UnitPrice           decimal.Decimal
	Image               string
	Archived            bool
	RequiresHardwareRef string
}

type LineItem struct {
	PartNumber  string
	Name        string
	Quantity    int
	UnitPrice   decimal.Decimal
	Status      string
	TrackingRef string
}

func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type ListingEntry struct {
	ID          string
	Kind        Kind
	Status      string
	LineItems   []LineItem
	Total       decimal.Decimal
	TrackingRef string
}

func (e ListingEntry) TotalQuantity() int {
	total := 0
	for _, li := range e.LineItems {
		total += li.Quantity
	}
	return total
}

// AccountPage is one page of a remote account listing. PageSize and TotalCount
// are zero when the backend omitted them; callers apply their own fallbacks.
type AccountPage struct {
	Entries    []ListingEntry
	PageSize   int
	TotalCount int
}
