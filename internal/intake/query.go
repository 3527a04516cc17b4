// Package intake turns bulk-creation instructions into store calls.
//
// Instructions are URL query parameters, one group per card type:
//
//	make_todo_name=...                         (repeatable)
//	make_memo_name=... memo=...                (paired by position)
//	make_link_name=... link=...
//	make_list_name=... list=a,b,c
//	make_date_name=... date=... date_note=...
//	tags=a,b                                   (shared by every card)
//
// The first group present wins; the others are left for a later pass.
// Consumed keys are stripped so the same instructions never run twice.
package intake

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/tilesticker/sticky/internal/schema"
)

// Request is one parsed group of instructions.
type Request struct {
	Type schema.Type
	// Patches holds one patch per card to create, applied after Add.
	Patches []schema.Patch
	// Consumed lists the query keys this request used.
	Consumed []string
}

type group struct {
	typ  schema.Type
	keys []string
}

var groups = []group{
	{schema.TypeTodo, []string{"make_todo_name"}},
	{schema.TypeMemo, []string{"make_memo_name", "memo"}},
	{schema.TypeLink, []string{"make_link_name", "link"}},
	{schema.TypeList, []string{"make_list_name", "list"}},
	{schema.TypeDate, []string{"make_date_name", "date", "date_note"}},
}

// ParseQuery reads the first instruction group in query. It returns nil
// when no group is present. now anchors relative dates.
func ParseQuery(query string, now time.Time) (*Request, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}

	for _, g := range groups {
		present := false
		for _, key := range g.keys {
			if len(values[key]) > 0 {
				present = true
			}
		}
		if !present {
			continue
		}

		req := &Request{
			Type:     g.typ,
			Consumed: append(append([]string{}, g.keys...), "tags"),
		}
		tags := splitCSV(values.Get("tags"))
		count := 0
		for _, key := range g.keys {
			count = max(count, len(values[key]))
		}
		names := values[g.keys[0]]
		for i := 0; i < count; i++ {
			patch, err := buildPatch(g, values, i, now)
			if err != nil {
				return nil, err
			}
			title := at(names, i)
			if title == "" {
				title = g.typ.DefaultTitle()
			}
			patch.Title = schema.Ptr(title)
			patch.Tags = schema.Ptr(append([]string{}, tags...))
			req.Patches = append(req.Patches, patch)
		}
		return req, nil
	}
	return nil, nil
}

func buildPatch(g group, values url.Values, i int, now time.Time) (schema.Patch, error) {
	var patch schema.Patch
	switch g.typ {
	case schema.TypeTodo:
		patch.Content = schema.Ptr("")
	case schema.TypeMemo:
		patch.Content = schema.Ptr(at(values["memo"], i))
	case schema.TypeLink:
		patch.Href = schema.Ptr(at(values["link"], i))
	case schema.TypeList:
		entries := splitCSV(at(values["list"], i))
		if len(entries) == 0 {
			entries = []string{""}
		}
		patch.List = &entries
	case schema.TypeDate:
		day := now.Format(time.DateOnly)
		if raw := at(values["date"], i); raw != "" {
			parsed, err := ParseDate(raw, now)
			if err != nil {
				return patch, err
			}
			day = parsed
		}
		patch.Date = &schema.DateInfo{SelectedDate: day, Note: at(values["date_note"], i)}
	}
	return patch, nil
}

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseDate returns raw as YYYY-MM-DD. ISO dates pass through; anything else
// goes through the natural-language parser ("tomorrow", "next friday").
func ParseDate(raw string, now time.Time) (string, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.Format(time.DateOnly), nil
	}
	r, err := parser.Parse(raw, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", raw, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized date %q", raw)
	}
	return r.Time.Format(time.DateOnly), nil
}

// Strip removes the request's keys from query and returns the rest,
// encoded.
func Strip(query string, req *Request) (string, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return "", fmt.Errorf("failed to parse query: %w", err)
	}
	if req != nil {
		for _, key := range req.Consumed {
			values.Del(key)
		}
	}
	return values.Encode(), nil
}

// Creator is the part of the store intake needs.
type Creator interface {
	Add(ctx context.Context, t schema.Type) (schema.Item, error)
	Update(ctx context.Context, id string, patch schema.Patch) (schema.Item, error)
}

// Apply creates one card per patch: Add with the type defaults, then Update
// with the patch. It stops at the first failure and returns what was
// created so far.
func Apply(ctx context.Context, c Creator, req *Request) ([]schema.Item, error) {
	if req == nil {
		return nil, nil
	}
	created := make([]schema.Item, 0, len(req.Patches))
	for _, patch := range req.Patches {
		item, err := c.Add(ctx, req.Type)
		if err != nil {
			return created, fmt.Errorf("failed to create %s: %w", req.Type, err)
		}
		filled, err := c.Update(ctx, item.ID, patch)
		if err != nil {
			return created, fmt.Errorf("failed to fill %s %s: %w", req.Type, item.ID, err)
		}
		created = append(created, filled)
	}
	return created, nil
}

// Run parses query, applies the first group and returns the stripped query.
// Only one group runs per call.
func Run(ctx context.Context, c Creator, query string, now time.Time) ([]schema.Item, string, error) {
	req, err := ParseQuery(query, now)
	if err != nil {
		return nil, query, err
	}
	if req == nil {
		return nil, query, nil
	}
	created, err := Apply(ctx, c, req)
	if err != nil {
		return created, query, err
	}
	rest, err := Strip(query, req)
	return created, rest, err
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}
