package options

import (
	"strconv"
	"strings"
)

// Fields carries the kind-specific input of a message intent as it arrives
// from API callers. Only the fields relevant to the requested kind are read.
type Fields struct {
	PreviewURL bool `json:"preview_url"`

	TemplateName string        `json:"template_name"`
	Language     string        `json:"language"`
	BodyParams   []any         `json:"body_params"`
	HeaderParams []any         `json:"header_params"`
	ButtonParams []ButtonParam `json:"button_params"`

	MediaType string `json:"media_type"`
	MediaID   string `json:"media_id"`
	MediaURL  string `json:"media_url"`
	Caption   string `json:"caption"`
	Filename  string `json:"filename"`

	Header  string   `json:"header"`
	Footer  string   `json:"footer"`
	Buttons []Button `json:"buttons"`

	ListButtonText string   `json:"list_button_text"`
	ListSections   []Object `json:"list_sections"`

	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	LocationName string   `json:"location_name"`
	Address      string   `json:"address"`

	Contacts []Object `json:"contacts"`
}

// ButtonParam is a template button as supplied by a caller. Index may be a
// number or a string; SubType defaults to "url".
type ButtonParam struct {
	Index   any    `json:"index"`
	SubType string `json:"sub_type"`
	Param   any    `json:"param"`
	Title   string `json:"title"`
}

// Normalize validates a message intent and returns its canonical form.
func Normalize(kind, body string, f Fields) (Options, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindText:
		if body == "" {
			return nil, invalid("body", "text message body is required")
		}
		return Text{Body: body, PreviewURL: f.PreviewURL}, nil

	case KindTemplate:
		return normalizeTemplate(f)

	case KindMedia:
		if f.MediaID == "" && f.MediaURL == "" {
			return nil, invalid("media", "either media_id or media_url is required")
		}
		m := Media{
			MediaType: strings.ToLower(f.MediaType),
			MediaID:   f.MediaID,
			MediaURL:  f.MediaURL,
			Caption:   f.Caption,
			Filename:  f.Filename,
		}
		if m.MediaType == "" {
			m.MediaType = DefaultMediaType
		}
		if m.Caption == "" {
			m.Caption = body
		}
		return m, nil

	case KindInteractive:
		if body == "" {
			return nil, invalid("body", "interactive message body is required")
		}
		if len(f.Buttons) > MaxButtons {
			return nil, invalid("buttons", "at most %d buttons are allowed, got %d", MaxButtons, len(f.Buttons))
		}
		for _, b := range f.Buttons {
			if !b.Type.Valid() {
				return nil, invalidKind(ErrUnsupportedButtonType, "buttons.type", "unsupported button type: %q", b.Type)
			}
		}
		return Interactive{
			Body:    body,
			Header:  f.Header,
			Footer:  f.Footer,
			Buttons: append([]Button(nil), f.Buttons...),
		}, nil

	case KindList:
		if f.ListButtonText == "" {
			return nil, invalid("list_button_text", "list button text is required")
		}
		if len(f.ListSections) == 0 {
			return nil, invalid("list_sections", "at least one list section is required")
		}
		return List{
			Body:       body,
			Header:     f.Header,
			Footer:     f.Footer,
			ButtonText: f.ListButtonText,
			Sections:   append([]Object(nil), f.ListSections...),
		}, nil

	case KindLocation:
		if f.Latitude == nil || f.Longitude == nil || f.LocationName == "" || f.Address == "" {
			return nil, invalid("location", "latitude, longitude, location_name and address are required")
		}
		lat, lon := *f.Latitude, *f.Longitude
		return Location{Latitude: &lat, Longitude: &lon, Name: f.LocationName, Address: f.Address}, nil

	case KindContact:
		if len(f.Contacts) == 0 {
			return nil, invalid("contacts", "at least one contact is required")
		}
		return Contact{Contacts: append([]Object(nil), f.Contacts...)}, nil

	default:
		return nil, invalidKind(ErrUnsupportedMessageType, "type", "unsupported message type: %q", kind)
	}
}

func normalizeTemplate(f Fields) (Options, error) {
	if f.TemplateName == "" {
		return nil, invalid("template_name", "template name is required")
	}
	t := Template{Name: f.TemplateName, Language: f.Language}
	if t.Language == "" {
		t.Language = DefaultLanguage
	}

	var err error
	if t.BodyParams, err = templateParams("body_params", f.BodyParams); err != nil {
		return nil, err
	}
	if t.HeaderParams, err = templateParams("header_params", f.HeaderParams); err != nil {
		return nil, err
	}

	for _, b := range f.ButtonParams {
		subType := strings.ToLower(strings.TrimSpace(b.SubType))
		if subType == "" {
			subType = "url"
		}
		idx, err := buttonIndex(b.Index)
		if err != nil {
			return nil, err
		}
		title := b.Title
		if title == "" {
			title = "Open"
		}
		tb := TemplateButton{Index: idx, SubType: subType, Param: b.Param}
		obj, known, err := templateButtonParam(subType, b.Param, title)
		if err != nil {
			return nil, err
		}
		if known {
			tb.Param = obj
		}
		t.ButtonParams = append(t.ButtonParams, tb)
	}
	return t, nil
}

func templateParams(field string, in []any) ([]Object, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]Object, 0, len(in))
	for i, p := range in {
		switch v := p.(type) {
		case string:
			out = append(out, TextParam(v))
		case Object:
			out = append(out, v)
		case map[string]any:
			out = append(out, Object(v))
		default:
			return nil, invalidKind(ErrInvalidParameterType, field,
				"parameter %d must be a string or an object, got %T", i, p)
		}
	}
	return out, nil
}

func buttonIndex(v any) (string, error) {
	switch i := v.(type) {
	case nil:
		return "0", nil
	case string:
		return i, nil
	case int:
		return strconv.Itoa(i), nil
	case int64:
		return strconv.FormatInt(i, 10), nil
	case float64:
		return strconv.FormatFloat(i, 'f', -1, 64), nil
	default:
		return "", invalidKind(ErrInvalidParameterType, "button_params.index",
			"button index must be a number or a string, got %T", v)
	}
}
