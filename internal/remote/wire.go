package remote

import "github.com/cortadolabs/tabsync/internal/catalog"

func typeFromWire(s string) catalog.Type {
	t := catalog.Type(s)
	if t.Valid() {
		return t
	}
	return catalog.Text
}

func selectOptionFromWire(o wireSelectOption) catalog.SelectOption {
	return catalog.SelectOption{Name: o.Name, Color: o.Color}
}

// wirePropValue is the wire shape of a single property's value, wide enough
// to express every catalog.Type's payload (§6 "payload is a mapping from
// property identifier to typed value").
type wirePropValue struct {
	Type        string    `json:"type"`
	Text        string    `json:"text,omitempty"`
	Number      *float64  `json:"number,omitempty"`
	Bool        *bool     `json:"checkbox,omitempty"`
	Select      string    `json:"select,omitempty"`
	MultiSelect []string  `json:"multi_select,omitempty"`
	DateStart   string    `json:"date_start,omitempty"`
	DateEnd     string    `json:"date_end,omitempty"`
	Files       []wireFileRef `json:"files,omitempty"`
	RelationIDs []string  `json:"relation_ids,omitempty"`
}

type wireFileRef struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

type wireIcon struct {
	Emoji string       `json:"emoji,omitempty"`
	File  *wireFileRef `json:"file,omitempty"`
}

type wireBlock struct {
	Type  string      `json:"type"`
	Image wireFileRef `json:"image"`
	Caption string    `json:"caption,omitempty"`
}

func propertiesFromWire(m map[string]wirePropValue) map[string]catalog.Value {
	out := make(map[string]catalog.Value, len(m))
	for name, v := range m {
		val := catalog.Value{Type: typeFromWire(v.Type)}
		switch val.Type {
		case catalog.Number:
			if v.Number != nil {
				val.Number = *v.Number
				val.HasValue = true
			}
		case catalog.Checkbox:
			if v.Bool != nil {
				val.Bool = *v.Bool
				val.HasValue = true
			}
		case catalog.Select, catalog.Status:
			val.SelectValue = v.Select
			val.HasValue = v.Select != ""
		case catalog.MultiSelect, catalog.Person:
			val.MultiValues = v.MultiSelect
			val.HasValue = len(v.MultiSelect) > 0
		case catalog.Date, catalog.CreatedTime, catalog.LastEditedTime:
			if v.DateStart != "" {
				val.Dates = []catalog.DateRange{{Start: v.DateStart, End: v.DateEnd, Valid: true}}
				val.HasValue = true
			}
		case catalog.File:
			for _, f := range v.Files {
				val.Files = append(val.Files, catalog.FileRef{Name: f.Name, ExternalURL: f.URL})
			}
			val.HasValue = len(val.Files) > 0
		case catalog.Relation:
			for _, id := range v.RelationIDs {
				val.Relations = append(val.Relations, catalog.RelationRef{PageID: id})
			}
			val.HasValue = len(val.Relations) > 0
		default:
			val.Text = v.Text
			val.HasValue = v.Text != ""
		}
		out[name] = val
	}
	return out
}

func valueToWire(v catalog.Value) wirePropValue {
	w := wirePropValue{Type: string(v.Type)}
	switch v.Type {
	case catalog.Number:
		if v.HasValue {
			n := v.Number
			w.Number = &n
		}
	case catalog.Checkbox:
		b := v.Bool
		w.Bool = &b
	case catalog.Select, catalog.Status:
		w.Select = v.SelectValue
	case catalog.MultiSelect, catalog.Person:
		w.MultiSelect = v.MultiValues
	case catalog.Date, catalog.CreatedTime, catalog.LastEditedTime:
		if len(v.Dates) > 0 {
			w.DateStart = v.Dates[0].Start
			w.DateEnd = v.Dates[0].End
		}
	case catalog.File:
		for _, f := range v.Files {
			w.Files = append(w.Files, fileRefToWire(f))
		}
	case catalog.Relation:
		for _, r := range v.Relations {
			w.RelationIDs = append(w.RelationIDs, r.PageID)
		}
	default:
		w.Text = v.Text
	}
	return w
}

func fileRefToWire(f catalog.FileRef) wireFileRef {
	if f.AssetID != "" {
		return wireFileRef{Name: f.Name, URL: "asset://" + f.AssetID}
	}
	return wireFileRef{Name: f.Name, URL: f.ExternalURL}
}

func writeRequestToWire(req WriteRequest) wireWriteRequest {
	body := wireWriteRequest{Properties: make(map[string]wirePropValue, len(req.Properties))}
	for name, v := range req.Properties {
		body.Properties[name] = valueToWire(v)
	}
	if req.Cover != nil {
		ref := fileRefToWire(*req.Cover)
		body.Cover = &ref
	}
	if req.Icon != nil {
		wi := wireIcon{Emoji: req.Icon.Emoji}
		if req.Icon.File != nil {
			ref := fileRefToWire(*req.Icon.File)
			wi.File = &ref
		}
		body.Icon = &wi
	}
	if req.ImageBlock != nil {
		body.Children = []wireBlock{{
			Type:    "image",
			Image:   fileRefToWire(req.ImageBlock.File),
			Caption: req.ImageBlock.Caption,
		}}
	}
	return body
}
