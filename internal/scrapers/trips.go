package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"hostscrape/internal/browser"
	"hostscrape/internal/models"
)

const tripCardsJS = `(function(){
	var months = ['Jan','Feb','Mar','Apr','May','Jun','Jul','Aug','Sep','Oct','Nov','Dec'];
	var brands = ['Hyundai','Toyota','Honda','Nissan','Ford','Chevrolet','BMW','Mercedes','Audi','Volkswagen','Mazda','Subaru'];
	function containsAny(text, needles) {
		for (var i = 0; i < needles.length; i++) {
			if (text.indexOf(needles[i]) !== -1) { return true; }
		}
		return false;
	}
	var out = [];
	document.querySelectorAll('[data-testid="baseTripCard"]').forEach(function(card){
		var text = (card.innerText || '').trim();
		var rec = {trip_id: null, trip_url: null, customer_name: null, trip_dates: null,
			vehicle: null, license_plate: null, status: 'completed', cancellation_info: null, raw_text: text};
		var link = card.getAttribute('href') ? card : card.querySelector('a[href]');
		if (link) {
			var href = link.getAttribute('href');
			rec.trip_url = href;
			var parts = href.split('/');
			rec.trip_id = parts[parts.length - 1] || null;
		}
		if (text.toLowerCase().indexOf('cancelled') !== -1) {
			rec.status = 'cancelled';
			var cancel = card.querySelector('.css-x4dp90-StyledText');
			if (cancel) { rec.cancellation_info = cancel.innerText.trim(); }
		}
		var customer = card.querySelector('.css-sc8osv-StyledText');
		if (customer) { rec.customer_name = customer.innerText.trim(); }
		var lines = text.split('\n');
		for (var i = 0; i < lines.length; i++) {
			var line = lines[i].trim();
			if (!rec.trip_dates && containsAny(line, months)) { rec.trip_dates = line; }
			if (!rec.vehicle && containsAny(line, brands)) { rec.vehicle = line; }
		}
		var plate = card.querySelector('.css-15h68s2-StyledText');
		if (plate) {
			var normalized = plate.innerText.replace(/[\s-]/g, '').toUpperCase();
			if (normalized.length <= 10 && /^[A-Z0-9]+$/.test(normalized)) { rec.license_plate = normalized; }
		}
		out.push(rec);
	});
	return JSON.stringify(out);
})()`

const tripDetailJS = `(function(){
	var rec = {title: document.title || null, heading: null};
	var h = document.querySelector('h1, h2');
	if (h) { rec.heading = h.innerText.trim(); }
	return JSON.stringify(rec);
})()`

const scrollToBottomJS = `(function(){
	window.scrollTo(0, document.body.scrollHeight);
	return true;
})()`

// maxDetailFetches caps per-run detail navigation so one task cannot spend
// its whole budget on a long backlog.
const maxDetailFetches = 5

// Trips extracts booked and historical trips. Trip ids come straight from
// the card link, so records survive re-listing on later runs; detail pages
// are only visited for ids not seen before.
type Trips struct {
	logger *slog.Logger
}

func NewTrips(logger *slog.Logger) *Trips {
	return &Trips{logger: logger}
}

func (*Trips) Category() models.Category { return models.CategoryTrips }

func (t *Trips) Extract(ctx context.Context, page browser.Page, existing map[string]struct{}) (json.RawMessage, error) {
	booked, bookedErr := t.extractListing(page, tripsBookedURL, upcomingListSel, "booked")
	history, historyErr := t.extractListing(page, tripsHistoryURL, historyListSel, "history")
	if bookedErr != nil && historyErr != nil {
		return nil, fmt.Errorf("both trip pages failed: %v; %v", bookedErr, historyErr)
	}

	payload := emptyPayload()
	seen := map[string]struct{}{}
	appendTrips := func(records []gjson.Result, kind string) {
		for _, rec := range records {
			id := rec.Get("trip_id").String()
			if id == "" {
				id = hashID("trip", rec.Get("raw_text").String())
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			withKind, _ := sjson.SetBytes([]byte(rec.Raw), "list", kind)
			payload = appendRecord(payload, id, gjson.ParseBytes(withKind))
		}
	}
	appendTrips(booked, "booked")
	appendTrips(history, "history")

	payload = t.enrichNewTrips(ctx, page, payload, existing)

	t.logger.Info("Trips extracted",
		"booked", len(booked), "history", len(history),
		"new", countNew(payload, existing))
	return payload, nil
}

func (t *Trips) extractListing(page browser.Page, url, listSel, name string) ([]gjson.Result, error) {
	if err := page.Navigate(url); err != nil {
		return nil, err
	}
	if !page.Exists(listSel, containerWait) {
		return nil, fmt.Errorf("%s trip list did not render", name)
	}
	if name == "history" {
		// Older cards load as the page scrolls.
		var ok bool
		if err := page.Eval(scrollToBottomJS, &ok); err == nil {
			page.Sleep(2 * time.Second)
		}
	}
	parsed, err := evalJSON(page, tripCardsJS)
	if err != nil {
		return nil, err
	}
	return parsed.Array(), nil
}

// enrichNewTrips visits the detail page of trips not seen on previous runs,
// up to the per-run cap. Known ids are never revisited; that is the whole
// point of carrying the existing set into extraction.
func (t *Trips) enrichNewTrips(ctx context.Context, page browser.Page, payload []byte, existing map[string]struct{}) []byte {
	fetched := 0
	for i, rec := range gjson.ParseBytes(payload).Array() {
		if fetched >= maxDetailFetches || ctx.Err() != nil {
			break
		}
		id := rec.Get("id").String()
		if _, known := existing[id]; known {
			continue
		}
		tripURL := rec.Get("trip_url").String()
		if tripURL == "" {
			continue
		}
		if strings.HasPrefix(tripURL, "/") {
			tripURL = "https://turo.com" + tripURL
		}
		if err := page.Navigate(tripURL); err != nil {
			t.logger.Warn("Trip detail fetch failed", "trip_id", id, "error", err)
			continue
		}
		detail, err := evalJSON(page, tripDetailJS)
		if err != nil {
			continue
		}
		fetched++
		payload, _ = sjson.SetRawBytes(payload, fmt.Sprintf("%d.detail", i), []byte(detail.Raw))
	}
	return payload
}
