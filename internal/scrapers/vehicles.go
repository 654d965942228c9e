package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/sjson"

	"hostscrape/internal/browser"
	"hostscrape/internal/models"
)

const vehiclesJS = `(function(){
	var statuses = ['Listed', 'Snoozed', 'Unavailable', 'Maintenance'];
	var out = [];
	document.querySelectorAll('[data-testid="vehicle-listing-details-card"]').forEach(function(card){
		var text = (card.innerText || '').trim();
		var rec = {name: null, year: null, status: null, details: null, trip_info: null, rating: null, raw_text: text};
		var nameEl = card.querySelector('.css-1s9awq7-StyledText');
		if (nameEl) { rec.name = nameEl.innerText.trim(); }
		var yearMatch = text.match(/\b(20(1[7-9]|2[0-9]))\b/);
		if (yearMatch) { rec.year = yearMatch[1]; }
		for (var i = 0; i < statuses.length; i++) {
			if (text.indexOf(statuses[i]) !== -1) { rec.status = statuses[i]; break; }
		}
		var det = card.querySelector('.css-1u90aiw-StyledText-VehicleDetailsCard, .css-sivu8m-VehicleDetailsCard p');
		if (det) { rec.details = det.innerText.trim(); }
		var trip = card.querySelector('.css-j2jl8y-StyledText');
		if (trip) { rec.trip_info = trip.innerText.trim(); }
		var rating = card.querySelector('.css-1xs83q-StyledText-VehicleListingRatingsText');
		if (rating) { rec.rating = rating.innerText.trim(); }
		out.push(rec);
	});
	return JSON.stringify(out);
})()`

// Vehicles extracts the host's vehicle listings with their Listed/Snoozed
// status. Records are keyed by vehicle name and year; a fixed-id summary
// record carries the fleet counts.
type Vehicles struct {
	logger *slog.Logger
}

func NewVehicles(logger *slog.Logger) *Vehicles {
	return &Vehicles{logger: logger}
}

func (*Vehicles) Category() models.Category { return models.CategoryVehicles }

func (v *Vehicles) Extract(ctx context.Context, page browser.Page, existing map[string]struct{}) (json.RawMessage, error) {
	if err := page.Navigate(vehiclesURL); err != nil {
		return nil, err
	}
	if !page.Exists(vehicleCardSel, containerWait) {
		return nil, fmt.Errorf("vehicle listings did not render")
	}

	parsed, err := evalJSON(page, vehiclesJS)
	if err != nil {
		return nil, err
	}

	payload := emptyPayload()
	listed, snoozed := 0, 0
	for _, rec := range parsed.Array() {
		switch rec.Get("status").String() {
		case "Listed":
			listed++
		case "Snoozed":
			snoozed++
		}
		id := slugID(rec.Get("name").String(), rec.Get("year").String())
		if id == "" {
			id = hashID("vehicle", rec.Get("raw_text").String())
		}
		payload = appendRecord(payload, id, rec)
	}

	total := len(parsed.Array())
	summary := []byte(`{"id":"vehicles:summary"}`)
	summary, _ = sjson.SetBytes(summary, "total_vehicles", total)
	summary, _ = sjson.SetBytes(summary, "listed_vehicles", listed)
	summary, _ = sjson.SetBytes(summary, "snoozed_vehicles", snoozed)
	payload, _ = sjson.SetRawBytes(payload, "-1", summary)

	v.logger.Info("Vehicle listings extracted",
		"total", total, "listed", listed, "snoozed", snoozed,
		"new", countNew(payload, existing))
	return payload, nil
}
