package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"hostscrape/internal/browser"
	"hostscrape/internal/models"
)

const reviewsJS = `(function(){
	var out = {overall: {percentage: null, category: null},
		metrics: {trips_count: null, ratings_count: null, average_rating: null},
		reviews: []};
	var pct = document.querySelector('[data-testid="cardAccordion-headerSuffix"] p.css-1vmc2vr-StyledText');
	if (pct) { out.overall.percentage = pct.innerText.trim(); }
	var cat = document.querySelector('[data-testid="cardAccordion-header"] p.css-1vmc2vr-StyledText');
	if (cat) { out.overall.category = cat.innerText.trim(); }
	function numberFrom(sel) {
		var el = document.querySelector(sel);
		if (!el) { return null; }
		var m = el.innerText.match(/[\d.]+/);
		return m ? parseFloat(m[0]) : null;
	}
	out.metrics.trips_count = numberFrom('[data-testid="ratingsDetails-trips"] p.css-13mmra7-StyledText');
	out.metrics.ratings_count = numberFrom('[data-testid="ratingsDetails-ratings"] p.css-13mmra7-StyledText');
	out.metrics.average_rating = numberFrom('[data-testid="ratingsDetails-average"] .css-xbnzaw-StyledText-categoryAverageMetricStyles');
	document.querySelectorAll('[data-testid="reviewList-review"]').forEach(function(el){
		var rec = {customer_id: null, customer_name: null, rating: null, date: null,
			vehicle_info: null, review_text: null, areas_of_improvement: [],
			host_response: null, has_host_response: false};
		var link = el.querySelector('a[rel="nofollow"][href*="/drivers/"]');
		if (link) {
			var m = (link.getAttribute('href') || '').match(/\/drivers\/(\d+)/);
			if (m) { rec.customer_id = m[1]; }
		}
		var star = el.querySelector('.css-1qr3nc0-StarRating-Container [aria-label*="Rating:"]');
		if (star) {
			var rm = (star.getAttribute('aria-label') || '').match(/Rating:\s*(\d+)\s*out of 5/);
			if (rm) { rec.rating = parseInt(rm[1], 10); }
		}
		if (rec.rating === null) {
			var filled = el.querySelectorAll('.css-10pswck svg[fill="#121214"]');
			if (filled.length > 0) { rec.rating = filled.length; }
		}
		var nameEl = el.querySelector('.css-ov1ktg p.css-j2jl8y-StyledText span:first-child');
		if (nameEl) { rec.customer_name = nameEl.innerText.trim(); }
		var dateEl = el.querySelector('.css-ov1ktg p.css-j2jl8y-StyledText span.css-s0p4kp-StyledText');
		if (dateEl) { rec.date = dateEl.innerText.replace('•', '').trim(); }
		var vehicleEl = el.querySelector('.css-1e0dz7l-ReviewBody p.css-j2jl8y-StyledText');
		if (vehicleEl) { rec.vehicle_info = vehicleEl.innerText.trim(); }
		var textEl = el.querySelector('.css-1e0dz7l-ReviewBody p.css-14bos0l-StyledText');
		if (textEl) { rec.review_text = textEl.innerText.trim(); }
		el.querySelectorAll('[data-testid="reviewsAreasOfImprovement-badge"]').forEach(function(badge){
			rec.areas_of_improvement.push(badge.innerText.trim());
		});
		var resp = el.querySelector('.css-1ojqf3u-Well-ReviewReplyContainer');
		if (resp) {
			rec.host_response = resp.innerText.trim();
			rec.has_host_response = true;
		}
		out.reviews.push(rec);
	});
	return JSON.stringify(out);
})()`

// Reviews extracts guest reviews and the host's overall rating metrics.
// Review ids combine the reviewer and date; the ratings snapshot lives in a
// fixed-id summary record.
type Reviews struct {
	logger *slog.Logger
}

func NewReviews(logger *slog.Logger) *Reviews {
	return &Reviews{logger: logger}
}

func (*Reviews) Category() models.Category { return models.CategoryReviews }

func (r *Reviews) Extract(ctx context.Context, page browser.Page, existing map[string]struct{}) (json.RawMessage, error) {
	if err := page.Navigate(reviewsURL); err != nil {
		return nil, err
	}
	if !page.Exists(reviewListSel, containerWait) {
		return nil, fmt.Errorf("review list did not render")
	}

	parsed, err := evalJSON(page, reviewsJS)
	if err != nil {
		return nil, err
	}

	payload := emptyPayload()
	rated := 0
	ratingSum := 0
	reviews := parsed.Get("reviews").Array()
	for _, rec := range reviews {
		if rating := rec.Get("rating"); rating.Exists() && rating.Type != gjson.Null {
			rated++
			ratingSum += int(rating.Int())
		}
		id := slugID("review", rec.Get("customer_id").String(), rec.Get("date").String())
		if id == "review" || id == "" {
			id = hashID("review", rec.Raw)
		}
		payload = appendRecord(payload, id, rec)
	}

	summary := []byte(`{"id":"ratings:summary"}`)
	summary, _ = sjson.SetRawBytes(summary, "overall_rating", []byte(parsed.Get("overall").Raw))
	summary, _ = sjson.SetRawBytes(summary, "trip_metrics", []byte(parsed.Get("metrics").Raw))
	summary, _ = sjson.SetBytes(summary, "total_reviews", len(reviews))
	summary, _ = sjson.SetBytes(summary, "reviews_with_ratings", rated)
	if rated > 0 {
		summary, _ = sjson.SetBytes(summary, "calculated_average_rating", float64(ratingSum)/float64(rated))
	}
	payload, _ = sjson.SetRawBytes(payload, "-1", summary)

	r.logger.Info("Reviews extracted",
		"reviews", len(reviews), "rated", rated,
		"new", countNew(payload, existing))
	return payload, nil
}
