package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tidwall/sjson"

	"hostscrape/internal/browser"
	"hostscrape/internal/models"
)

const earningsJS = `(function(){
	var out = {total: {amount: null, text: null, year: null}, breakdown: [], vehicles: []};
	var amount = document.querySelector('h2[data-testid="earningsFilterSummary-total"] span');
	if (amount) { out.total.amount = amount.innerText.trim(); }
	var totalEl = document.querySelector('h2[data-testid="earningsFilterSummary-total"]');
	if (totalEl) {
		out.total.text = totalEl.innerText.trim();
		var m = out.total.text.match(/earned\s+in\s+(\d{4})/);
		if (m) { out.total.year = m[1]; }
	}
	document.querySelectorAll('.legend-tag').forEach(function(tag){
		var amt = tag.querySelector('.css-bgx7g9-StyledText');
		var typ = tag.querySelector('.css-foqw77-StyledText');
		var tip = tag.querySelector('span[data-testid="tooltipPanel-content"] span.css-1afgvk6-StyledText');
		if (amt && typ) {
			out.breakdown.push({
				type: typ.innerText.trim(),
				amount: amt.innerText.trim(),
				description: tip ? tip.innerText.trim() : null
			});
		}
	});
	document.querySelectorAll('.css-4a2atv-StyledTableRow').forEach(function(row){
		var rec = {vehicle_name: null, license_plate: null, trim: null, earnings_amount: null};
		var name = row.querySelector('p.css-nmsfeq-StyledText-StyledMakeModelYear');
		if (name) { rec.vehicle_name = name.innerText.trim(); }
		var details = row.querySelector('p.css-47w2m9-StyledText-StyledMakeModelYear-StyledLicenseAndTrim');
		if (details) {
			var lines = details.innerText.split('\n');
			if (lines.length > 0) { rec.license_plate = lines[0].trim(); }
			if (lines.length > 1) { rec.trim = lines[1].trim(); }
		}
		var rowAmount = row.querySelector('p.css-14bos0l-StyledText span');
		if (rowAmount) { rec.earnings_amount = rowAmount.innerText.trim(); }
		out.vehicles.push(rec);
	});
	return JSON.stringify(out);
})()`

// Earnings extracts the business earnings page: the period total, the
// per-type breakdown legend and the per-vehicle table. Totals and breakdown
// entries carry fixed ids so each run upserts over the previous snapshot.
type Earnings struct {
	logger *slog.Logger
}

func NewEarnings(logger *slog.Logger) *Earnings {
	return &Earnings{logger: logger}
}

func (*Earnings) Category() models.Category { return models.CategoryEarnings }

func (e *Earnings) Extract(ctx context.Context, page browser.Page, existing map[string]struct{}) (json.RawMessage, error) {
	if err := page.Navigate(earningsURL); err != nil {
		return nil, err
	}
	if url, err := page.Location(); err == nil && !strings.Contains(url, "business/earnings") {
		return nil, fmt.Errorf("earnings page redirected to %s", url)
	}
	if !page.Exists(earningsTotalSel, containerWait) {
		return nil, fmt.Errorf("earnings summary did not render")
	}

	parsed, err := evalJSON(page, earningsJS)
	if err != nil {
		return nil, err
	}

	payload := emptyPayload()

	total := parsed.Get("total")
	totalID := "total"
	if year := total.Get("year").String(); year != "" {
		totalID = "total-" + year
	}
	payload = appendRecord(payload, totalID, total)

	breakdownSum := 0.0
	for _, entry := range parsed.Get("breakdown").Array() {
		breakdownSum += parseAmount(entry.Get("amount").String())
		id := slugID("breakdown", entry.Get("type").String())
		payload = appendRecord(payload, id, entry)
	}

	vehicles := parsed.Get("vehicles").Array()
	for _, row := range vehicles {
		id := slugID("vehicle", row.Get("vehicle_name").String(), row.Get("license_plate").String())
		if id == "vehicle" || id == "" {
			id = hashID("vehicle-earnings", row.Raw)
		}
		payload = appendRecord(payload, id, row)
	}

	summary := []byte(`{"id":"earnings:summary"}`)
	summary, _ = sjson.SetBytes(summary, "total_vehicles", len(vehicles))
	summary, _ = sjson.SetBytes(summary, "total_breakdown_amount", breakdownSum)
	payload, _ = sjson.SetRawBytes(payload, "-1", summary)

	e.logger.Info("Earnings extracted",
		"total", total.Get("amount").String(), "vehicles", len(vehicles),
		"breakdown_entries", len(parsed.Get("breakdown").Array()))
	return payload, nil
}

// parseAmount turns "$1,234.56" into 1234.56; unparseable text counts as
// zero.
func parseAmount(text string) float64 {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	amount, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return amount
}
