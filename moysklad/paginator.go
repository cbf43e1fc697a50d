package moysklad

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const demandExpand = "agent,store,project,salesChannel,state,positions.assortment"

// DemandPager walks the demand collection for a date range page by page.
// It is restartable: a fresh pager re-executes from offset 0, no cursor is
// persisted. The stream ends on an empty page, or early when the upstream
// reports a total size and it has been reached. A hard page cap guards
// against a misbehaving upstream paginating forever.
type DemandPager struct {
	client   *Client
	filter   string
	limit    int
	maxPages int

	offset  int
	pages   int
	total   int // -1 until the upstream reports meta.size
	skipped int
	done    bool
}

func NewDemandPager(client *Client, startDate, endDate time.Time) *DemandPager {
	limit := 1000
	if v := strings.TrimSpace(os.Getenv("MOYSKLAD_PAGE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	maxPages := 1000
	if v := strings.TrimSpace(os.Getenv("MOYSKLAD_MAX_PAGES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxPages = n
		}
	}

	filter := fmt.Sprintf("moment>=%s 00:00:00;moment<=%s 23:59:59",
		startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))

	return &DemandPager{
		client:   client,
		filter:   filter,
		limit:    limit,
		maxPages: maxPages,
		total:    -1,
	}
}

// Next returns the next page of demands, or (nil, nil) when the stream is
// exhausted. A fetch failure aborts the stream; pages already returned stay
// with the caller.
func (p *DemandPager) Next(ctx context.Context) ([]Demand, error) {
	if p.done {
		return nil, nil
	}
	if p.pages >= p.maxPages {
		p.done = true
		return nil, fmt.Errorf("demand stream exceeded %d pages (offset %d); aborting", p.maxPages, p.offset)
	}

	params := url.Values{}
	params.Set("filter", p.filter)
	params.Set("limit", strconv.Itoa(p.limit))
	params.Set("offset", strconv.Itoa(p.offset))
	params.Set("expand", demandExpand)

	body, err := p.client.Get(ctx, "/entity/demand", params)
	if err != nil {
		p.done = true
		return nil, err
	}
	p.pages++

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.done = true
		return nil, fmt.Errorf("decode demand page (offset %d): %w", p.offset, err)
	}
	if parsed.Meta.Size > 0 {
		p.total = parsed.Meta.Size
	}

	if len(parsed.Rows) == 0 {
		p.done = true
		return nil, nil
	}

	demands := make([]Demand, 0, len(parsed.Rows))
	for _, raw := range parsed.Rows {
		var d Demand
		if err := json.Unmarshal(raw, &d); err != nil || strings.TrimSpace(d.ID) == "" {
			// A single malformed record never fails the page.
			p.skipped++
			continue
		}
		demands = append(demands, d)
	}

	p.offset += len(parsed.Rows)
	if p.total >= 0 && p.offset >= p.total {
		p.done = true
	}
	return demands, nil
}

// Total is the upstream-reported number of matching records, or -1 when the
// upstream has not said yet.
func (p *DemandPager) Total() int {
	return p.total
}

// Skipped counts records dropped because their payload was malformed.
func (p *DemandPager) Skipped() int {
	return p.skipped
}
