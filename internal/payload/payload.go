// Package payload turns canonical message options into Cloud API request
// bodies.
package payload

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/jmehdipour/wadispatch/internal/options"
)

const MessagingProduct = "whatsapp"

const (
	MaxTextLength        = 4096
	MaxCaptionLength     = 1024
	MaxInteractiveBody   = 1024
	MaxInteractiveHeader = 60
	MaxInteractiveFooter = 60
)

// Payload is the JSON body of a send request. Exactly one of the
// type-named objects is set.
type Payload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`

	Text        *Text            `json:"text,omitempty"`
	Template    *Template        `json:"template,omitempty"`
	Image       *Media           `json:"image,omitempty"`
	Audio       *Media           `json:"audio,omitempty"`
	Video       *Media           `json:"video,omitempty"`
	Document    *Media           `json:"document,omitempty"`
	Sticker     *Media           `json:"sticker,omitempty"`
	Interactive *Interactive     `json:"interactive,omitempty"`
	Location    *Location        `json:"location,omitempty"`
	Contacts    []options.Object `json:"contacts,omitempty"`
}

func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

type Text struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type Template struct {
	Name       string      `json:"name"`
	Language   Language    `json:"language"`
	Components []Component `json:"components"`
}

type Language struct {
	Code string `json:"code"`
}

type Component struct {
	Type       string `json:"type"`
	SubType    string `json:"sub_type,omitempty"`
	Index      string `json:"index,omitempty"`
	Parameters []any  `json:"parameters"`
}

type Media struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type Interactive struct {
	Type   string  `json:"type"`
	Header *Header `json:"header,omitempty"`
	Body   Body    `json:"body"`
	Footer *Body   `json:"footer,omitempty"`
	Action Action  `json:"action"`
}

type Header struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Body struct {
	Text string `json:"text"`
}

type Action struct {
	Button   string           `json:"button,omitempty"`
	Buttons  []options.Object `json:"buttons,omitempty"`
	Sections []options.Object `json:"sections,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

// Builder produces the payload for one message kind.
type Builder interface {
	Build(recipient string) (Payload, error)
}

// For returns the builder matching the options kind.
func For(o options.Options) (Builder, error) {
	switch v := o.(type) {
	case options.Text:
		return TextBuilder{v}, nil
	case options.Template:
		return TemplateBuilder{v}, nil
	case options.Media:
		return MediaBuilder{v}, nil
	case options.Interactive:
		return InteractiveBuilder{v}, nil
	case options.List:
		return ListBuilder{v}, nil
	case options.Location:
		return LocationBuilder{v}, nil
	case options.Contact:
		return ContactBuilder{v}, nil
	case nil:
		return nil, options.NewValidationError("options", "options are required")
	default:
		return nil, fmt.Errorf("payload: no builder for %T", o)
	}
}

// Build is For followed by Builder.Build.
func Build(recipient string, o options.Options) (Payload, error) {
	b, err := For(o)
	if err != nil {
		return Payload{}, err
	}
	return b.Build(recipient)
}

// Validate runs the builder for o against a placeholder recipient so wire
// limits are enforced before a task is stored.
func Validate(o options.Options) error {
	_, err := Build(validationRecipient, o)
	return err
}

const validationRecipient = "+0"

func envelope(recipient, typ string) (Payload, error) {
	if recipient == "" {
		return Payload{}, options.NewValidationError("to", "recipient is required")
	}
	return Payload{MessagingProduct: MessagingProduct, To: recipient, Type: typ}, nil
}

func runes(s string) int { return utf8.RuneCountInString(s) }

func truncate(s string, n int) string {
	if runes(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
