package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

/********** alias registries (single source of truth) **********/

var propertyAliases = map[string][]string{
	"name":            {"Name"},
	"slug":            {"Slug (Final)", "Slug"},
	"address":         {"Address"},
	"description":     {"Description"},
	"latitude":        {"Latitude"},
	"longitude":       {"Longitude"},
	"contact_name":    {"Contact Name"},
	"contact_phone":   {"Contact Phone"},
	"luxury":          {"Luxury Status"},
	"active":          {"Is Active"},
	"completion_date": {"Completion Date"},
	"brochure":        {"Brochure"},
	"thumbnail":       {"Thumbnail", "Thumbnails"},
}

var configurationAliases = map[string][]string{
	"property":  {"Property"},
	"type":      {"Type"},
	"bedrooms":  {"Bedrooms"},
	"bathrooms": {"Bathrooms"},
	"sqft":      {"Square Footage"},
	"price":     {"Price"},
	"available": {"Is Available"},
}

var imageAliases = map[string][]string{
	"property": {"Property"},
	"image":    {"Image"},
	"alt":      {"Alt Text"},
	"order":    {"Order"},
}

var amenityAliases = map[string][]string{
	"property":    {"Property"},
	"names":       {"Amenities", "Name"},
	"description": {"Description"},
	"icon":        {"Icon"},
}

/********** tiny helpers **********/

// firstPresent returns the first alias value that is not "empty" in the
// upstream sense: nil, "", empty list or empty object.
func firstPresent(f map[string]any, aliases map[string][]string, key string) any {
	for _, k := range aliases[key] {
		v, ok := f[k]
		if !ok || isEmpty(v) {
			continue
		}
		return v
	}
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// asString flattens scalars; lookup/rollup fields arrive as one-element lists.
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		if len(t) > 0 {
			return asString(t[0])
		}
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func str(f map[string]any, aliases map[string][]string, key string) string {
	return asString(firstPresent(f, aliases, key))
}

var numberNoise = strings.NewReplacer("₦", "", "$", "", ",", "", " ", "", " ", "")

// asDecimal parses leniently; invalid or missing yields nil, never an error.
func asDecimal(v any, places int32) *decimal.Decimal {
	var d decimal.Decimal
	switch t := v.(type) {
	case float64:
		d = decimal.NewFromFloat(t)
	case int:
		d = decimal.NewFromInt(int64(t))
	case int64:
		d = decimal.NewFromInt(t)
	case string:
		s := numberNoise.Replace(strings.TrimSpace(t))
		if s == "" {
			return nil
		}
		p, err := decimal.NewFromString(s)
		if err != nil {
			return nil
		}
		d = p
	case []any:
		if len(t) == 0 {
			return nil
		}
		return asDecimal(t[0], places)
	default:
		return nil
	}
	d = d.Round(places)
	return &d
}

// asInt returns (value, ok). ok=false means present but not coercible.
func asInt(v any, def int) (int, bool) {
	switch t := v.(type) {
	case nil:
		return def, true
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return def, true
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), true
		}
		return def, false
	case bool:
		if t {
			return 1, true
		}
		return def, true
	}
	return def, false
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "0", "false", "no", "off", "n":
			return false
		}
		return true
	case []any:
		return len(t) > 0
	}
	return v != nil
}

const dateLayout = "2006-01-02"

func asDate(v any) *time.Time {
	s := asString(v)
	if s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

// links returns the record IDs of a linked-record field.
func links(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			if s, ok := it.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	case string:
		if t != "" {
			return []string{t}
		}
	}
	return nil
}

type attachment struct {
	URL      string
	Filename string
	Type     string
}

// attachments keeps list positions; entries without a URL come back with URL "".
func attachments(v any) []attachment {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]attachment, 0, len(raw))
	for _, it := range raw {
		var a attachment
		if m, ok := it.(map[string]any); ok {
			a.URL, _ = m["url"].(string)
			a.Filename, _ = m["filename"].(string)
			a.Type, _ = m["type"].(string)
		}
		out = append(out, a)
	}
	return out
}

func firstAttachmentURL(v any) *string {
	as := attachments(v)
	if len(as) == 0 || as[0].URL == "" {
		return nil
	}
	u := as[0].URL
	return &u
}

func optStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
