// Package report turns joined order-line and expense-link rows into the
// date-bucketed figures served by the reporting endpoints. Every function is
// pure: callers fetch rows from the store and pass the location that defines
// a calendar day.
package report

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"expensedesk/backend/internal/domain"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 1000
	monthLayout     = "2006-01"
)

// DateKey returns the YYYY-MM-DD calendar day of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(domain.DateLayout)
}

func lineTotal(row domain.OrderItemRow) decimal.Decimal {
	return row.ItemPrice.Mul(decimal.NewFromInt(int64(row.Count)))
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// DailyTotals merges order-line totals and expense-link totals by day,
// ascending. A day present on only one side reports 0 for the other.
func DailyTotals(lines []domain.OrderItemRow, links []domain.ExpenseLinkRow, loc *time.Location) []domain.DailyTotal {
	orderTotals := make(map[string]decimal.Decimal)
	for _, row := range lines {
		key := DateKey(row.AddedDate, loc)
		orderTotals[key] = orderTotals[key].Add(lineTotal(row))
	}

	expenseTotals := make(map[string]decimal.Decimal)
	for _, link := range links {
		key := DateKey(link.CreatedDate, loc)
		expenseTotals[key] = expenseTotals[key].Add(link.Amount)
	}

	keys := make([]string, 0, len(orderTotals)+len(expenseTotals))
	for key := range orderTotals {
		keys = append(keys, key)
	}
	for key := range expenseTotals {
		if _, seen := orderTotals[key]; !seen {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	result := make([]domain.DailyTotal, 0, len(keys))
	for _, key := range keys {
		orderTotal := orderTotals[key].Round(2)
		expenseTotal := expenseTotals[key].Round(2)
		result = append(result, domain.DailyTotal{
			Date:          key,
			OrderTotal:    orderTotal.InexactFloat64(),
			ExpenseTotal:  expenseTotal.InexactFloat64(),
			CombinedTotal: orderTotal.Add(expenseTotal).InexactFloat64(),
		})
	}
	return result
}

// DailyUserSummary groups lines of priced orders by (day, user) and sorts the
// groups descending. Each group keeps the order id of its first line.
func DailyUserSummary(lines []domain.OrderItemRow, loc *time.Location) []domain.DailyUserSummary {
	type groupKey struct {
		date string
		user string
	}
	type group struct {
		count   int
		amount  decimal.Decimal
		orderID int64
	}

	groups := make(map[groupKey]*group)
	for _, row := range lines {
		if !row.OrderPrice.IsPositive() {
			continue
		}
		key := groupKey{date: DateKey(row.AddedDate, loc), user: row.Username}
		g, ok := groups[key]
		if !ok {
			g = &group{orderID: row.OrderID}
			groups[key] = g
		}
		g.count += row.Count
		g.amount = g.amount.Add(lineTotal(row))
	}

	result := make([]domain.DailyUserSummary, 0, len(groups))
	for key, g := range groups {
		result = append(result, domain.DailyUserSummary{
			Date:        key.date,
			User:        key.user,
			TotalCount:  g.count,
			TotalAmount: round2(g.amount),
			OrderID:     g.orderID,
		})
	}
	slices.SortFunc(result, func(a, b domain.DailyUserSummary) int {
		if c := cmp.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.User, a.User)
	})
	return result
}

// Filter is a validated GroupedItemsFilter. Bounds are YYYY-MM-DD keys and
// Month is YYYY-MM; empty fields do not filter.
type Filter struct {
	Start    string
	End      string
	Specific string
	Month    string
}

func ParseFilter(raw domain.GroupedItemsFilter) (Filter, error) {
	var f Filter
	var err error
	if f.Start, err = normalizeDay(raw.StartDate, "start_date"); err != nil {
		return Filter{}, err
	}
	if f.End, err = normalizeDay(raw.EndDate, "end_date"); err != nil {
		return Filter{}, err
	}
	if f.Specific, err = normalizeDay(raw.SpecificDate, "specific_date"); err != nil {
		return Filter{}, err
	}
	if month := strings.TrimSpace(raw.Month); month != "" {
		parsed, err := time.Parse(monthLayout, month)
		if err != nil {
			return Filter{}, fmt.Errorf("month must be YYYY-MM, got %q", raw.Month)
		}
		f.Month = parsed.Format(monthLayout)
	}
	return f, nil
}

func normalizeDay(raw string, field string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	day, err := domain.ParseDate(raw)
	if err != nil {
		return "", fmt.Errorf("%s must be YYYY-MM-DD, got %q", field, raw)
	}
	return day.String(), nil
}

// Match reports whether a day key passes every set bound. End is inclusive
// of the whole day.
func (f Filter) Match(key string) bool {
	if f.Start != "" && key < f.Start {
		return false
	}
	if f.End != "" && key > f.End {
		return false
	}
	if f.Specific != "" && key != f.Specific {
		return false
	}
	if f.Month != "" && !strings.HasPrefix(key, f.Month+"-") {
		return false
	}
	return true
}

// ParsePage coerces raw query values; anything missing, malformed or below 1
// falls back to the defaults. Page sizes above MaxPageSize are clamped.
func ParsePage(rawPage string, rawSize string) (int, int) {
	return coercePositive(rawPage, DefaultPage), min(coercePositive(rawSize, DefaultPageSize), MaxPageSize)
}

func coercePositive(raw string, fallback int) int {
	val, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

// GroupItems paginates the distinct days of lines (newest first) and groups
// each page day's lines by item. Pagination applies to days, not lines; a
// page past the end returns empty results.
func GroupItems(lines []domain.OrderItemRow, filter Filter, page int, pageSize int, loc *time.Location) domain.GroupedItemsResponse {
	if page < 1 {
		page = DefaultPage
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	pageSize = min(pageSize, MaxPageSize)

	byDay := make(map[string][]domain.OrderItemRow)
	for _, row := range lines {
		key := DateKey(row.AddedDate, loc)
		if !filter.Match(key) {
			continue
		}
		byDay[key] = append(byDay[key], row)
	}

	days := make([]string, 0, len(byDay))
	for key := range byDay {
		days = append(days, key)
	}
	slices.Sort(days)
	slices.Reverse(days)

	resp := domain.GroupedItemsResponse{
		Results:     make(map[string][]domain.GroupedItem),
		CurrentPage: page,
	}
	if len(days) == 0 {
		return resp
	}
	// page*pageSize may overflow int; compare page numbers instead.
	lastPage := (len(days)-1)/pageSize + 1
	resp.TotalPages = lastPage
	if page > lastPage {
		return resp
	}
	start := (page - 1) * pageSize
	end := min(start+pageSize, len(days))

	grand := decimal.Zero
	for _, day := range days[start:end] {
		groups, dayTotal := groupByItem(byDay[day])
		resp.Results[day] = groups
		grand = grand.Add(dayTotal)
	}
	resp.TotalPrice = round2(grand)
	return resp
}

func groupByItem(rows []domain.OrderItemRow) ([]domain.GroupedItem, decimal.Decimal) {
	type acc struct {
		item  domain.GroupedItem
		price decimal.Decimal
		total decimal.Decimal
	}

	order := make([]int64, 0, len(rows))
	accs := make(map[int64]*acc, len(rows))
	dayTotal := decimal.Zero
	for _, row := range rows {
		a, ok := accs[row.ItemID]
		if !ok {
			a = &acc{item: domain.GroupedItem{ItemID: row.ItemID, ItemName: row.ItemName}, price: row.ItemPrice}
			accs[row.ItemID] = a
			order = append(order, row.ItemID)
		}
		total := lineTotal(row)
		a.item.Count += row.Count
		a.total = a.total.Add(total)
		dayTotal = dayTotal.Add(total)
	}

	groups := make([]domain.GroupedItem, 0, len(order))
	for _, id := range order {
		a := accs[id]
		a.item.Price = round2(a.price)
		a.item.Total = round2(a.total)
		groups = append(groups, a.item)
	}
	return groups, dayTotal
}

// AvailableDates lists the distinct days of lines, newest first.
func AvailableDates(lines []domain.OrderItemRow, loc *time.Location) []string {
	seen := make(map[string]struct{}, len(lines))
	days := make([]string, 0, 16)
	for _, row := range lines {
		key := DateKey(row.AddedDate, loc)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		days = append(days, key)
	}
	slices.Sort(days)
	slices.Reverse(days)
	return days
}

// OrderTotal sums price*count over lines. Zero lines give zero.
func OrderTotal(lines []domain.OrderItem, items map[int64]domain.Item) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		item, ok := items[line.ItemID]
		if !ok {
			continue
		}
		total = total.Add(item.ItemPrice.Mul(decimal.NewFromInt(int64(line.Count))))
	}
	return total
}
