package app

import (
	"fmt"
	"strings"

	"propsync/internal/domain"
)

const (
	coordPlaces = 15
	pricePlaces = 2
)

// NormalizeProperty maps one raw property row. Only a missing ID is fatal
// for the record; every optional field degrades to its default.
func NormalizeProperty(r domain.RawRecord) (domain.PropertyRecord, error) {
	if strings.TrimSpace(r.ID) == "" {
		return domain.PropertyRecord{}, domain.Skip(domain.KindProperty, "", domain.SkipMissingID, "")
	}
	f := r.Fields
	out := domain.PropertyRecord{
		ExternalID:     r.ID,
		Name:           str(f, propertyAliases, "name"),
		Address:        str(f, propertyAliases, "address"),
		Description:    str(f, propertyAliases, "description"),
		Latitude:       asDecimal(firstPresent(f, propertyAliases, "latitude"), coordPlaces),
		Longitude:      asDecimal(firstPresent(f, propertyAliases, "longitude"), coordPlaces),
		ContactName:    str(f, propertyAliases, "contact_name"),
		ContactPhone:   str(f, propertyAliases, "contact_phone"),
		Luxury:         luxury(str(f, propertyAliases, "luxury")),
		IsActive:       asBool(firstPresent(f, propertyAliases, "active")),
		CompletionDate: asDate(firstPresent(f, propertyAliases, "completion_date")),
		BrochureURL:    firstAttachmentURL(firstPresent(f, propertyAliases, "brochure")),
		ThumbnailURL:   firstAttachmentURL(firstPresent(f, propertyAliases, "thumbnail")),
	}
	if out.Name == "" {
		out.Name = "Unnamed Property " + r.ID
	}
	if s := Slugify(str(f, propertyAliases, "slug")); s != "" {
		out.Slug, out.SlugExplicit = s, true
	} else {
		out.Slug = Slugify(out.Name)
	}
	if out.Slug == "" {
		out.Slug = "property-" + Slugify(r.ID)
	}
	return out, nil
}

func luxury(s string) domain.Luxury {
	if strings.EqualFold(s, "luxurious") {
		return domain.Luxurious
	}
	return domain.NonLuxurious
}

// parent resolves the first linked property ID against the observed set.
func parent(k domain.Kind, r domain.RawRecord, aliases map[string][]string, known map[string]bool) (string, error) {
	ids := links(firstPresent(r.Fields, aliases, "property"))
	if len(ids) == 0 {
		return "", domain.Skip(k, r.ID, domain.SkipNoParentLink, "")
	}
	if !known[ids[0]] {
		return "", domain.Skip(k, r.ID, domain.SkipUnknownParent, ids[0])
	}
	return ids[0], nil
}

func nonNegative(k domain.Kind, id, field string, v any, def int) (int, error) {
	n, ok := asInt(v, def)
	if !ok {
		n = def
	}
	if n < 0 {
		return 0, domain.Skip(k, id, domain.SkipInvalidField, fmt.Sprintf("%s=%d", field, n))
	}
	return n, nil
}

func NormalizeConfiguration(r domain.RawRecord, known map[string]bool) (domain.ConfigurationRecord, error) {
	const k = domain.KindConfiguration
	if strings.TrimSpace(r.ID) == "" {
		return domain.ConfigurationRecord{}, domain.Skip(k, "", domain.SkipMissingID, "")
	}
	pid, err := parent(k, r, configurationAliases, known)
	if err != nil {
		return domain.ConfigurationRecord{}, err
	}
	f := r.Fields
	out := domain.ConfigurationRecord{
		ExternalID:         r.ID,
		PropertyExternalID: pid,
		Type:               str(f, configurationAliases, "type"),
		Price:              asDecimal(firstPresent(f, configurationAliases, "price"), pricePlaces),
		IsAvailable:        asBool(firstPresent(f, configurationAliases, "available")),
	}
	if out.Bedrooms, err = nonNegative(k, r.ID, "bedrooms", firstPresent(f, configurationAliases, "bedrooms"), 0); err != nil {
		return domain.ConfigurationRecord{}, err
	}
	if out.Bathrooms, err = nonNegative(k, r.ID, "bathrooms", firstPresent(f, configurationAliases, "bathrooms"), 1); err != nil {
		return domain.ConfigurationRecord{}, err
	}
	if out.SquareFootage, err = nonNegative(k, r.ID, "square_footage", firstPresent(f, configurationAliases, "sqft"), 0); err != nil {
		return domain.ConfigurationRecord{}, err
	}
	return out, nil
}

// NormalizeImage fans one upstream row out into one record per attachment.
// Attachments without a URL keep their index but produce nothing.
func NormalizeImage(r domain.RawRecord, known map[string]bool) ([]domain.ImageRecord, error) {
	const k = domain.KindImage
	if strings.TrimSpace(r.ID) == "" {
		return nil, domain.Skip(k, "", domain.SkipMissingID, "")
	}
	pid, err := parent(k, r, imageAliases, known)
	if err != nil {
		return nil, err
	}
	f := r.Fields
	base, err := nonNegative(k, r.ID, "order", firstPresent(f, imageAliases, "order"), 0)
	if err != nil {
		return nil, err
	}
	as := attachments(firstPresent(f, imageAliases, "image"))
	if len(as) == 0 {
		return nil, domain.Skip(k, r.ID, domain.SkipNoAttachments, "")
	}
	alt := str(f, imageAliases, "alt")
	fanned := len(as) > 1

	out := make([]domain.ImageRecord, 0, len(as))
	for i, a := range as {
		if a.URL == "" {
			continue
		}
		rec := domain.ImageRecord{
			ExternalID:         r.ID,
			PropertyExternalID: pid,
			URL:                a.URL,
			AltText:            alt,
			Order:              base + i,
			AttachmentIndex:    i,
			OriginalRecordID:   r.ID,
		}
		if fanned {
			rec.ExternalID = fmt.Sprintf("%s_%d", r.ID, i)
			if alt != "" {
				rec.AltText = fmt.Sprintf("%s (Image %d)", alt, i+1)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// NormalizeAmenity splits a comma-separated name field into one record per
// distinct name. External IDs are "{recordID}_{name token}".
func NormalizeAmenity(r domain.RawRecord, known map[string]bool) ([]domain.AmenityRecord, error) {
	const k = domain.KindAmenity
	if strings.TrimSpace(r.ID) == "" {
		return nil, domain.Skip(k, "", domain.SkipMissingID, "")
	}
	pid, err := parent(k, r, amenityAliases, known)
	if err != nil {
		return nil, err
	}
	f := r.Fields
	names := amenityNames(firstPresent(f, amenityAliases, "names"))
	if len(names) == 0 {
		return nil, domain.Skip(k, r.ID, domain.SkipNoName, "")
	}
	desc := str(f, amenityAliases, "description")
	icon := str(f, amenityAliases, "icon")

	seen := make(map[string]bool, len(names))
	out := make([]domain.AmenityRecord, 0, len(names))
	for _, n := range names {
		tok := token(n)
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, domain.AmenityRecord{
			ExternalID:         r.ID + "_" + tok,
			PropertyExternalID: pid,
			Name:               n,
			Description:        desc,
			Icon:               icon,
		})
	}
	if len(out) == 0 {
		return nil, domain.Skip(k, r.ID, domain.SkipNoName, "")
	}
	return out, nil
}

// amenityNames accepts a comma-separated string or a multi-select list.
func amenityNames(v any) []string {
	var parts []string
	switch t := v.(type) {
	case []any:
		for _, it := range t {
			parts = append(parts, strings.Split(asString(it), ",")...)
		}
	default:
		parts = strings.Split(asString(v), ",")
	}
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Normalize maps a whole fetch into a snapshot. Children are checked
// against the property IDs of this same batch. Duplicate property IDs keep
// the last row in the position of the first, and so do configurations
// sharing (property, type) and amenities sharing (property, name); the
// superseded child is reported as a duplicate skip.
func Normalize(raw map[domain.Kind][]domain.RawRecord) (domain.Snapshot, []*domain.SkipError) {
	var (
		snap  domain.Snapshot
		skips []*domain.SkipError
	)
	skip := func(err error) {
		if se, ok := err.(*domain.SkipError); ok {
			skips = append(skips, se)
		}
	}

	known := map[string]bool{}
	pos := map[string]int{}
	for _, r := range raw[domain.KindProperty] {
		p, err := NormalizeProperty(r)
		if err != nil {
			skip(err)
			continue
		}
		if i, dup := pos[p.ExternalID]; dup {
			snap.Properties[i] = p
			continue
		}
		pos[p.ExternalID] = len(snap.Properties)
		known[p.ExternalID] = true
		snap.Properties = append(snap.Properties, p)
	}

	byType := map[string]int{}
	for _, r := range raw[domain.KindConfiguration] {
		c, err := NormalizeConfiguration(r, known)
		if err != nil {
			skip(err)
			continue
		}
		key := c.PropertyExternalID + "\x00" + c.Type
		if i, dup := byType[key]; dup {
			skips = append(skips, duplicate(domain.KindConfiguration, snap.Configurations[i].ExternalID, c.ExternalID))
			snap.Configurations[i] = c
			continue
		}
		byType[key] = len(snap.Configurations)
		snap.Configurations = append(snap.Configurations, c)
	}
	for _, r := range raw[domain.KindImage] {
		is, err := NormalizeImage(r, known)
		if err != nil {
			skip(err)
			continue
		}
		snap.Images = append(snap.Images, is...)
	}
	byName := map[string]int{}
	for _, r := range raw[domain.KindAmenity] {
		as, err := NormalizeAmenity(r, known)
		if err != nil {
			skip(err)
			continue
		}
		for _, a := range as {
			key := a.PropertyExternalID + "\x00" + token(a.Name)
			if i, dup := byName[key]; dup {
				skips = append(skips, duplicate(domain.KindAmenity, snap.Amenities[i].ExternalID, a.ExternalID))
				snap.Amenities[i] = a
				continue
			}
			byName[key] = len(snap.Amenities)
			snap.Amenities = append(snap.Amenities, a)
		}
	}
	return snap, skips
}

func duplicate(k domain.Kind, lost, kept string) *domain.SkipError {
	return domain.Skip(k, lost, domain.SkipDuplicate, "superseded by "+kept)
}
