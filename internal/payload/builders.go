package payload

import (
	"github.com/jmehdipour/wadispatch/internal/options"
)

type TextBuilder struct{ options.Text }

func (b TextBuilder) Build(to string) (Payload, error) {
	if b.Body == "" {
		return Payload{}, options.NewValidationError("text.body", "text body is required")
	}
	if n := runes(b.Body); n > MaxTextLength {
		return Payload{}, options.NewValidationError("text.body",
			"text exceeds maximum length of %d characters (got %d)", MaxTextLength, n)
	}
	p, err := envelope(to, "text")
	if err != nil {
		return Payload{}, err
	}
	p.Text = &Text{Body: b.Body, PreviewURL: b.PreviewURL}
	return p, nil
}

type TemplateBuilder struct{ options.Template }

func (b TemplateBuilder) Build(to string) (Payload, error) {
	if b.Name == "" {
		return Payload{}, options.NewValidationError("template.name", "template name is required")
	}
	p, err := envelope(to, "template")
	if err != nil {
		return Payload{}, err
	}

	lang := b.Language
	if lang == "" {
		lang = options.DefaultLanguage
	}

	components := []Component{}
	if len(b.HeaderParams) > 0 {
		components = append(components, Component{Type: "header", Parameters: objects(b.HeaderParams)})
	}
	if len(b.BodyParams) > 0 {
		components = append(components, Component{Type: "body", Parameters: objects(b.BodyParams)})
	}
	for _, btn := range b.ButtonParams {
		components = append(components, Component{
			Type:       "button",
			SubType:    btn.SubType,
			Index:      btn.Index,
			Parameters: []any{btn.Param},
		})
	}

	p.Template = &Template{Name: b.Name, Language: Language{Code: lang}, Components: components}
	return p, nil
}

func objects(in []options.Object) []any {
	out := make([]any, len(in))
	for i, o := range in {
		out[i] = o
	}
	return out
}

type MediaBuilder struct{ options.Media }

func (b MediaBuilder) Build(to string) (Payload, error) {
	if b.MediaID == "" && b.MediaURL == "" {
		return Payload{}, options.NewValidationError("media", "either media id or media url is required")
	}
	if n := runes(b.Caption); n > MaxCaptionLength {
		return Payload{}, options.NewValidationError("media.caption",
			"caption exceeds maximum length of %d characters (got %d)", MaxCaptionLength, n)
	}
	typ := b.MediaType
	if typ == "" {
		typ = options.DefaultMediaType
	}
	if typ == "document" && b.Filename == "" {
		return Payload{}, options.NewValidationError("media.filename", "document messages require a filename")
	}
	if typ != "document" && b.Filename != "" {
		return Payload{}, options.NewValidationError("media.filename", "filename is only valid for documents")
	}

	p, err := envelope(to, typ)
	if err != nil {
		return Payload{}, err
	}

	m := &Media{Caption: b.Caption, Filename: b.Filename}
	if b.MediaID != "" {
		m.ID = b.MediaID
	} else {
		m.Link = b.MediaURL
	}

	switch typ {
	case "image":
		p.Image = m
	case "audio":
		p.Audio = m
	case "video":
		p.Video = m
	case "document":
		p.Document = m
	case "sticker":
		p.Sticker = m
	default:
		return Payload{}, options.NewValidationError("media.media_type", "unsupported media type %q", typ)
	}
	return p, nil
}

type InteractiveBuilder struct{ options.Interactive }

func (b InteractiveBuilder) Build(to string) (Payload, error) {
	if b.Body == "" {
		return Payload{}, options.NewValidationError("interactive.body", "body text is required")
	}
	if n := runes(b.Body); n > MaxInteractiveBody {
		return Payload{}, options.NewValidationError("interactive.body",
			"body exceeds maximum length of %d characters", MaxInteractiveBody)
	}
	if runes(b.Header) > MaxInteractiveHeader {
		return Payload{}, options.NewValidationError("interactive.header",
			"header exceeds maximum length of %d characters", MaxInteractiveHeader)
	}
	if runes(b.Footer) > MaxInteractiveFooter {
		return Payload{}, options.NewValidationError("interactive.footer",
			"footer exceeds maximum length of %d characters", MaxInteractiveFooter)
	}
	if len(b.Buttons) > options.MaxButtons {
		return Payload{}, options.NewValidationError("interactive.buttons",
			"maximum %d buttons allowed", options.MaxButtons)
	}

	buttons := make([]options.Object, 0, len(b.Buttons))
	for _, btn := range b.Buttons {
		if btn.Type == options.ButtonReply {
			btn.Title = truncate(btn.Title, options.MaxButtonTitle)
		}
		obj, err := options.ButtonObject(btn)
		if err != nil {
			return Payload{}, err
		}
		buttons = append(buttons, obj)
	}

	p, err := envelope(to, "interactive")
	if err != nil {
		return Payload{}, err
	}
	p.Interactive = &Interactive{
		Type:   "button",
		Header: header(b.Header),
		Body:   Body{Text: b.Body},
		Footer: footer(b.Footer),
		Action: Action{Buttons: buttons},
	}
	return p, nil
}

type ListBuilder struct{ options.List }

func (b ListBuilder) Build(to string) (Payload, error) {
	if b.ButtonText == "" {
		return Payload{}, options.NewValidationError("list.button_text", "list button text is required")
	}
	if len(b.Sections) == 0 {
		return Payload{}, options.NewValidationError("list.sections", "at least one section is required")
	}
	p, err := envelope(to, "interactive")
	if err != nil {
		return Payload{}, err
	}
	p.Interactive = &Interactive{
		Type:   "list",
		Header: header(b.Header),
		Body:   Body{Text: b.Body},
		Footer: footer(b.Footer),
		Action: Action{Button: b.ButtonText, Sections: b.Sections},
	}
	return p, nil
}

type LocationBuilder struct{ options.Location }

func (b LocationBuilder) Build(to string) (Payload, error) {
	if b.Latitude == nil || b.Longitude == nil || b.Name == "" || b.Address == "" {
		return Payload{}, options.NewValidationError("location", "latitude, longitude, name and address are required")
	}
	p, err := envelope(to, "location")
	if err != nil {
		return Payload{}, err
	}
	p.Location = &Location{
		Latitude:  *b.Latitude,
		Longitude: *b.Longitude,
		Name:      b.Name,
		Address:   b.Address,
	}
	return p, nil
}

type ContactBuilder struct{ options.Contact }

func (b ContactBuilder) Build(to string) (Payload, error) {
	if len(b.Contacts) == 0 {
		return Payload{}, options.NewValidationError("contacts", "at least one contact is required")
	}
	p, err := envelope(to, "contacts")
	if err != nil {
		return Payload{}, err
	}
	p.Contacts = b.Contacts
	return p, nil
}

func header(text string) *Header {
	if text == "" {
		return nil
	}
	return &Header{Type: "text", Text: text}
}

func footer(text string) *Body {
	if text == "" {
		return nil
	}
	return &Body{Text: text}
}
