package browser

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ExportStorageState snapshots cookies plus the current origin's
// localStorage into an opaque JSON blob:
//
//	{"cookies":[...],"origins":[{"origin":...,"localStorage":[{"name":...,"value":...}]}]}
//
// The blob is only ever interpreted by ImportStorageState; everything else
// treats it as bytes.
func (s *Session) ExportStorageState() ([]byte, error) {
	var cookies []*network.Cookie
	var origin string
	var localItems string

	err := s.run(s.navTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().Do(ctx)
			return err
		}),
		chromedp.Location(&origin),
		chromedp.Evaluate(`JSON.stringify(Object.entries(localStorage))`, &localItems),
	)
	if err != nil {
		return nil, fmt.Errorf("export storage state: %w", err)
	}

	blob := []byte(`{"cookies":[],"origins":[]}`)
	for i, c := range cookies {
		prefix := "cookies." + strconv.Itoa(i)
		blob, _ = sjson.SetBytes(blob, prefix+".name", c.Name)
		blob, _ = sjson.SetBytes(blob, prefix+".value", c.Value)
		blob, _ = sjson.SetBytes(blob, prefix+".domain", c.Domain)
		blob, _ = sjson.SetBytes(blob, prefix+".path", c.Path)
		blob, _ = sjson.SetBytes(blob, prefix+".expires", c.Expires)
		blob, _ = sjson.SetBytes(blob, prefix+".httpOnly", c.HTTPOnly)
		blob, _ = sjson.SetBytes(blob, prefix+".secure", c.Secure)
	}

	blob, _ = sjson.SetBytes(blob, "origins.0.origin", origin)
	for i, entry := range gjson.Parse(localItems).Array() {
		pair := entry.Array()
		if len(pair) != 2 {
			continue
		}
		prefix := "origins.0.localStorage." + strconv.Itoa(i)
		blob, _ = sjson.SetBytes(blob, prefix+".name", pair[0].String())
		blob, _ = sjson.SetBytes(blob, prefix+".value", pair[1].String())
	}

	return blob, nil
}

// ImportStorageState seeds the context with a previously exported blob. The
// page must be navigated to the origin afterwards for localStorage writes to
// stick, so the origin entries are applied by navigating there first.
func (s *Session) ImportStorageState(blob []byte) error {
	parsed := gjson.ParseBytes(blob)

	err := s.run(s.navTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range parsed.Get("cookies").Array() {
			name := c.Get("name").String()
			if name == "" {
				continue
			}
			param := network.SetCookie(name, c.Get("value").String()).
				WithDomain(c.Get("domain").String()).
				WithPath(c.Get("path").String()).
				WithHTTPOnly(c.Get("httpOnly").Bool()).
				WithSecure(c.Get("secure").Bool())
			if exp := c.Get("expires").Float(); exp > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(exp), 0))
				param = param.WithExpires(&expires)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", name, err)
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("import cookies: %w", err)
	}

	for _, originEntry := range parsed.Get("origins").Array() {
		origin := originEntry.Get("origin").String()
		if origin == "" {
			continue
		}
		if err := s.Navigate(origin); err != nil {
			return err
		}
		js := `(function(items){
			localStorage.clear();
			sessionStorage.clear();
			for (var i = 0; i < items.length; i++) {
				localStorage.setItem(items[i].name, items[i].value);
			}
			return true;
		})(` + originEntry.Get("localStorage").Raw + `)`
		if originEntry.Get("localStorage").Raw == "" {
			continue
		}
		var ok bool
		if err := s.run(s.stepTimeout, chromedp.Evaluate(js, &ok)); err != nil {
			return fmt.Errorf("restore localStorage for %s: %w", origin, err)
		}
	}

	return nil
}
