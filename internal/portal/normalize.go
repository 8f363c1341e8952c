package portal

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// The normalizer is the single boundary where arbitrarily-shaped remote or
// persisted payloads become trusted entities. Historical field aliases are
// tried in a fixed priority order; every numeric field parses tolerant of
// string/number mixing; nothing here ever panics or returns an error.

var (
	partNumberAliases = []string{"partnumber", "partNumber", "part", "requiresHardware"}
	quantityAliases   = []string{"qty", "quantity"}
)

func NormalizeCartEntry(raw map[string]any) CartLineEntry {
	part := firstString(raw, partNumberAliases...)
	id := firstString(raw, "id")
	if id == "" {
		id = part
	}
	if id == "" {
		id = placeholderID("DTG")
	}
	hardware := firstString(raw, "requiresHardware")
	if hardware == "" {
		hardware = part
	}
	// Cart lines always carry at least one unit, even when a stored snapshot
	// says zero.
	qty := intValue(raw, 1, quantityAliases...)
	if qty <= 0 {
		qty = 1
	}
	return CartLineEntry{
		ID:                  id,
		PartNumber:          part,
		Name:                firstString(raw, "name"),
		Description:         firstString(raw, "description", "notes"),
		UnitPrice:           decimalValue(raw, 0, "price"),
		Quantity:            qty,
		Image:               firstString(raw, "image"),
		RequiresHardwareRef: hardware,
		Notes:               firstString(raw, "notes"),
	}
}

func NormalizeProduct(raw map[string]any) Product {
	part := firstString(raw, partNumberAliases[:3]...)
	return Product{
		ID:                  firstString(raw, "id"),
		PartNumber:          part,
		Name:                firstString(raw, "name"),
		Category:            firstString(raw, "category"),
		Description:         firstString(raw, "description", "notes"),
		UnitPrice:           decimalValue(raw, 0, "price"),
		Image:               firstString(raw, "image"),
		Archived:            boolValue(raw, "archived"),
		RequiresHardwareRef: firstString(raw, "requiresHardware"),
	}
}

// NormalizeProducts digs the product array out of a catalog payload, which has
// shipped under data.products, products, and a bare data array at various
// times. Archived products are dropped.
func NormalizeProducts(payload map[string]any) []Product {
	rawList := productArray(payload)
	products := make([]Product, 0, len(rawList))
	for _, item := range rawList {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		product := NormalizeProduct(raw)
		if product.Archived {
			continue
		}
		products = append(products, product)
	}
	return products
}

func productArray(payload map[string]any) []any {
	if payload == nil {
		return nil
	}
	if data, ok := payload["data"].(map[string]any); ok {
		if list, ok := data["products"].([]any); ok {
			return list
		}
	}
	if list, ok := payload["products"].([]any); ok {
		return list
	}
	if list, ok := payload["data"].([]any); ok {
		return list
	}
	return nil
}

func NormalizeLineItem(raw map[string]any, parentStatus, parentTracking string) LineItem {
	part := firstString(raw, "name")
	if part == "" {
		part = "UNKNOWN"
	}
	display := strings.TrimSpace(firstString(raw, "description"))
	if display == "" {
		display = firstString(raw, "name")
	}
	if display == "" {
		display = "Item"
	}
	status := firstString(raw, "status")
	if status == "" {
		status = parentStatus
	}
	tracking := firstString(raw, "tracking")
	if tracking == "" {
		tracking = parentTracking
	}
	return LineItem{
		PartNumber:  part,
		Name:        display,
		Quantity:    intValue(raw, 0, quantityAliases...),
		UnitPrice:   decimalValue(raw, 0, "price"),
		Status:      status,
		TrackingRef: tracking,
	}
}

func NormalizeListingEntry(raw map[string]any, kind Kind) ListingEntry {
	id := firstString(raw, "name", "id")
	if id == "" {
		prefix := "Q"
		if kind == KindOrder {
			prefix = "ORD"
		}
		id = placeholderID(prefix)
	}
	status := firstString(raw, "status")
	if status == "" {
		status = "Open"
	}
	tracking := ""
	if kind == KindOrder {
		if shipments, ok := raw["shipments"].([]any); ok {
			tracking = extractTrackingRef(shipments)
		}
	}

	var lineItems []LineItem
	if lines, ok := raw["lines"].([]any); ok {
		lineItems = make([]LineItem, 0, len(lines))
		for _, lineRaw := range lines {
			line, ok := lineRaw.(map[string]any)
			if !ok {
				continue
			}
			lineItems = append(lineItems, NormalizeLineItem(line, status, tracking))
		}
	}

	total, supplied := parseDecimal(raw["total"])
	if !supplied {
		total = decimal.Zero
		for _, li := range lineItems {
			total = total.Add(li.LineTotal())
		}
	}

	return ListingEntry{
		ID:          id,
		Kind:        kind,
		Status:      status,
		LineItems:   lineItems,
		Total:       total,
		TrackingRef: tracking,
	}
}

// NormalizeAccountPage maps one page of the account-data payload. PageSize and
// TotalCount stay zero when the backend omitted them so the caller can tell
// "absent" from "present".
func NormalizeAccountPage(payload map[string]any, kind Kind) AccountPage {
	listKey, totalKey := "quotes", "total_quotes"
	if kind == KindOrder {
		listKey, totalKey = "orders", "total_orders"
	}
	page := AccountPage{Entries: []ListingEntry{}}
	if payload == nil {
		return page
	}
	if list, ok := payload[listKey].([]any); ok {
		page.Entries = make([]ListingEntry, 0, len(list))
		for _, item := range list {
			raw, ok := item.(map[string]any)
			if !ok {
				continue
			}
			page.Entries = append(page.Entries, NormalizeListingEntry(raw, kind))
		}
	}
	if total, ok := parseInt(payload[totalKey]); ok && total >= 0 {
		page.TotalCount = total
	}
	if size, ok := parseInt(payload["page_size"]); ok && size > 0 {
		page.PageSize = size
	}
	return page
}

var (
	hrefPattern = regexp.MustCompile(`(?i)href=["']([^"']+)["']`)
	urlPattern  = regexp.MustCompile(`https?://[^\s'"]+`)
)

// extractTrackingRef pulls the first tracking URL out of a shipments array.
// The backend sometimes returns a bare URL and sometimes a full HTML anchor.
func extractTrackingRef(shipments []any) string {
	if len(shipments) == 0 {
		return ""
	}
	first, ok := shipments[0].(map[string]any)
	if !ok {
		return ""
	}
	link := firstString(first, "tracking_link", "tracking", "tracking_link_html")
	if link == "" {
		return ""
	}
	if match := hrefPattern.FindStringSubmatch(link); match != nil {
		return match[1]
	}
	if match := urlPattern.FindString(link); match != "" {
		return match
	}
	return link
}

func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				return strconv.FormatFloat(v, 'f', -1, 64)
			}
		case json.Number:
			return v.String()
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

// DecimalField reports whether raw carries a parseable finite number under any
// of the given keys, returning the first one found.
func DecimalField(raw map[string]any, keys ...string) (decimal.Decimal, bool) {
	for _, key := range keys {
		if value, ok := parseDecimal(raw[key]); ok {
			return value, true
		}
	}
	return decimal.Zero, false
}

func decimalValue(raw map[string]any, fallback float64, keys ...string) decimal.Decimal {
	if value, ok := DecimalField(raw, keys...); ok {
		return value
	}
	return decimal.NewFromFloat(fallback)
}

func intValue(raw map[string]any, fallback int, keys ...string) int {
	for _, key := range keys {
		if value, ok := parseInt(raw[key]); ok {
			return value
		}
	}
	return fallback
}

func boolValue(raw map[string]any, keys ...string) bool {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case bool:
			return v
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return parsed
			}
		}
	}
	return false
}

func parseDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, false
		}
		return parsed, true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return decimal.Zero, false
		}
		parsed, err := decimal.NewFromString(trimmed)
		if err != nil {
			return decimal.Zero, false
		}
		return parsed, true
	default:
		return decimal.Zero, false
	}
}

func parseInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return int(parsed), true
		}
		if parsed, err := v.Float64(); err == nil && !math.IsNaN(parsed) && !math.IsInf(parsed, 0) {
			return int(parsed), true
		}
		return 0, false
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		if parsed, err := strconv.Atoi(trimmed); err == nil {
			return parsed, true
		}
		if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(parsed) && !math.IsInf(parsed, 0) {
			return int(parsed), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func placeholderID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return prefix + "-" + suffix
}
