package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/dtgportal/portalsync/internal/portal"
	"github.com/dtgportal/portalsync/internal/remote"
	"github.com/shopspring/decimal"
)

var (
	ErrEntryNotFound = errors.New("listing: entry not found")
	ErrEmptyOrder    = errors.New("listing: cannot copy an order with no items")
)

// EditSurface is a detached working copy of a quote's lines. All edits happen
// here; the listing itself is untouched until SaveQuoteEdit succeeds, so a
// failed save preserves everything the user typed.
type EditSurface struct {
	QuoteID string
	Lines   []portal.LineItem
}

func NewEditSurface(entry portal.ListingEntry) *EditSurface {
	lines := make([]portal.LineItem, len(entry.LineItems))
	copy(lines, entry.LineItems)
	return &EditSurface{QuoteID: entry.ID, Lines: lines}
}

// SetQuantity clamps to a minimum of 1; removing a line is an explicit action.
func (s *EditSurface) SetQuantity(partNumber string, quantity int) {
	if quantity < 1 {
		quantity = 1
	}
	for i, line := range s.Lines {
		if line.PartNumber == partNumber {
			s.Lines[i].Quantity = quantity
			return
		}
	}
}

func (s *EditSurface) RemoveLine(partNumber string) {
	kept := s.Lines[:0]
	for _, line := range s.Lines {
		if line.PartNumber != partNumber {
			kept = append(kept, line)
		}
	}
	s.Lines = kept
}

// SaveQuoteEdit pushes the surface's lines to the backend. When the backend
// echoes the canonical updated quote it replaces the listing entry wholesale;
// an acknowledgment without a body keeps the optimistic lines. On error the
// listing and the surface are both left untouched.
func (c *Controller) SaveQuoteEdit(ctx context.Context, surface *EditSurface) error {
	if surface == nil || surface.QuoteID == "" {
		return fmt.Errorf("listing: nothing to save")
	}
	lines := make([]remote.QuoteEditLine, 0, len(surface.Lines))
	for _, line := range surface.Lines {
		lines = append(lines, remote.QuoteEditLine{
			PartNumber: line.PartNumber,
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice.InexactFloat64(),
		})
	}
	result, err := c.client.EditQuote(ctx, surface.QuoteID, lines)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, entry := range c.entries {
		if entry.ID != surface.QuoteID {
			continue
		}
		if result.Adopted {
			c.entries[i] = result.Quote
			return nil
		}
		optimistic := make([]portal.LineItem, len(surface.Lines))
		copy(optimistic, surface.Lines)
		entry.LineItems = optimistic
		total := decimal.Zero
		for _, line := range optimistic {
			total = total.Add(line.LineTotal())
		}
		entry.Total = total
		c.entries[i] = entry
		return nil
	}
	return ErrEntryNotFound
}

// DeleteQuoteLocally removes the quote from the current listing only. The
// backend keeps the quote and a refetch brings it back; remote deletion is
// not part of the portal API.
func (c *Controller) DeleteQuoteLocally(quoteID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.entries[:0]
	removed := false
	for _, entry := range c.entries {
		if entry.ID == quoteID && entry.Kind == portal.KindQuote {
			removed = true
			continue
		}
		kept = append(kept, entry)
	}
	c.entries = kept
	return removed
}

// CopyOrder asks the backend to clone the order into a new draft, then drops
// the cached key and returns to page 1 so the listing refetches.
func (c *Controller) CopyOrder(ctx context.Context, orderID string) error {
	c.mu.Lock()
	var found *portal.ListingEntry
	for i := range c.entries {
		if c.entries[i].ID == orderID {
			found = &c.entries[i]
			break
		}
	}
	if found != nil && len(found.LineItems) == 0 {
		c.mu.Unlock()
		return ErrEmptyOrder
	}
	c.mu.Unlock()

	if err := c.client.CopyOrder(ctx, orderID); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastKey = ""
	c.snapshot = nil
	c.lastErr = nil
	c.query.Page = 1
	c.mu.Unlock()
	c.Request()
	return nil
}

func (c *Controller) DownloadQuotePDF(ctx context.Context, quoteID string) ([]byte, error) {
	return c.client.QuotePDF(ctx, quoteID)
}
