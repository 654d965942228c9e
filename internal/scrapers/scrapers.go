// Package scrapers holds one extractor per category. Each extractor owns
// its listing-page navigation and DOM walking, assigns a stable external id
// to every record, and returns an opaque JSON array for persistence.
package scrapers

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"hostscrape/internal/browser"
	"hostscrape/internal/pipeline"
)

// containerWait bounds how long an extractor waits for its listing page to
// render before declaring the category failed.
const containerWait = 10 * time.Second

// All returns every extractor, in the order categories are usually run.
func All(logger *slog.Logger) []pipeline.Extractor {
	return []pipeline.Extractor{
		NewVehicles(logger),
		NewTrips(logger),
		NewEarnings(logger),
		NewReviews(logger),
	}
}

// evalJSON runs an extraction script that returns JSON.stringify output and
// parses it.
func evalJSON(page browser.Page, js string) (gjson.Result, error) {
	var raw string
	if err := page.Eval(js, &raw); err != nil {
		return gjson.Result{}, fmt.Errorf("run extraction script: %w", err)
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsArray() && !parsed.IsObject() {
		return gjson.Result{}, fmt.Errorf("extraction script returned non-JSON output")
	}
	return parsed, nil
}

// slugID builds a stable identifier out of human-readable parts: lowercase,
// alphanumerics kept, everything else collapsed to single dashes. Empty
// parts are dropped; all parts empty yields "".
func slugID(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('-')
		}
		dash := false
		for _, r := range part {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
				dash = false
			} else if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// hashID is the fallback identifier for records with no usable natural key.
// Stable for identical card text across runs.
func hashID(prefix, text string) string {
	h := fnv.New32a()
	h.Write([]byte(text))
	return fmt.Sprintf("%s-%08x", prefix, h.Sum32())
}

// appendRecord adds one record to the payload array with its id set.
func appendRecord(payload []byte, id string, record gjson.Result) []byte {
	rec, err := sjson.SetBytes([]byte(record.Raw), "id", id)
	if err != nil {
		return payload
	}
	out, err := sjson.SetRawBytes(payload, "-1", rec)
	if err != nil {
		return payload
	}
	return out
}

func emptyPayload() []byte { return []byte(`[]`) }

// countNew reports how many ids in the payload are absent from the known
// set, for logging.
func countNew(payload []byte, existing map[string]struct{}) int {
	fresh := 0
	for _, rec := range gjson.ParseBytes(payload).Array() {
		if _, ok := existing[rec.Get("id").String()]; !ok {
			fresh++
		}
	}
	return fresh
}
