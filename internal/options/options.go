// Package options holds the canonical message intent stored on every task and
// the grammar that produces it.
package options

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindText        Kind = "text"
	KindTemplate    Kind = "template"
	KindMedia       Kind = "media"
	KindInteractive Kind = "interactive"
	KindList        Kind = "list"
	KindLocation    Kind = "location"
	KindContact     Kind = "contact"
)

func (k Kind) String() string { return string(k) }

const (
	DefaultLanguage  = "rw_RW"
	DefaultMediaType = "image"
	MaxButtons       = 3
)

// Object is a structured wire fragment (template parameter, built button,
// list section, contact card).
type Object map[string]any

// Options is the canonical message intent. The set of implementations is
// closed: Text, Template, Media, Interactive, List, Location, Contact.
type Options interface {
	Kind() Kind
	sealed()
}

type Text struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type Template struct {
	Name         string           `json:"name"`
	Language     string           `json:"language"`
	BodyParams   []Object         `json:"body_params"`
	HeaderParams []Object         `json:"header_params"`
	ButtonParams []TemplateButton `json:"button_params"`
}

// TemplateButton is one dynamic button component. Index is kept exactly as
// the caller supplied it.
type TemplateButton struct {
	Index   string `json:"index"`
	SubType string `json:"sub_type"`
	Param   any    `json:"param"`
}

type Media struct {
	MediaType string `json:"media_type"`
	MediaID   string `json:"media_id,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

type Interactive struct {
	Body    string   `json:"body"`
	Header  string   `json:"header,omitempty"`
	Footer  string   `json:"footer,omitempty"`
	Buttons []Button `json:"buttons"`
}

type ButtonType string

const (
	ButtonReply       ButtonType = "reply"
	ButtonURL         ButtonType = "url"
	ButtonPhoneNumber ButtonType = "phone_number"
	ButtonCopyCode    ButtonType = "copy_code"
	ButtonCouponCode  ButtonType = "coupon_code"
)

func (t ButtonType) Valid() bool {
	switch t {
	case ButtonReply, ButtonURL, ButtonPhoneNumber, ButtonCopyCode, ButtonCouponCode:
		return true
	}
	return false
}

// Button is an interactive button spec, keyed by Type.
type Button struct {
	Type  ButtonType `json:"type"`
	ID    string     `json:"id,omitempty"`
	Title string     `json:"title,omitempty"`
	URL   string     `json:"url,omitempty"`
	Phone string     `json:"phone,omitempty"`
	Code  string     `json:"code,omitempty"`
}

type List struct {
	Body       string   `json:"body"`
	Header     string   `json:"header,omitempty"`
	Footer     string   `json:"footer,omitempty"`
	ButtonText string   `json:"button_text"`
	Sections   []Object `json:"sections"`
}

type Location struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
}

type Contact struct {
	Contacts []Object `json:"contacts"`
}

func (Text) Kind() Kind        { return KindText }
func (Template) Kind() Kind    { return KindTemplate }
func (Media) Kind() Kind       { return KindMedia }
func (Interactive) Kind() Kind { return KindInteractive }
func (List) Kind() Kind        { return KindList }
func (Location) Kind() Kind    { return KindLocation }
func (Contact) Kind() Kind     { return KindContact }

func (Text) sealed()        {}
func (Template) sealed()    {}
func (Media) sealed()       {}
func (Interactive) sealed() {}
func (List) sealed()        {}
func (Location) sealed()    {}
func (Contact) sealed()     {}

// Default is the plain-text intent used for tasks created without options.
func Default(body string) Options {
	return Text{Body: body}
}

// Marshal encodes o as a flat JSON object carrying a "type" discriminant.
func Marshal(o Options) ([]byte, error) {
	switch v := o.(type) {
	case Text:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Text
		}{KindText, v})
	case Template:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Template
		}{KindTemplate, v})
	case Media:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Media
		}{KindMedia, v})
	case Interactive:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Interactive
		}{KindInteractive, v})
	case List:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			List
		}{KindList, v})
	case Location:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Location
		}{KindLocation, v})
	case Contact:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Contact
		}{KindContact, v})
	case nil:
		return nil, invalid("type", "options are nil")
	default:
		return nil, fmt.Errorf("options: unknown implementation %T", o)
	}
}

// Unmarshal decodes what Marshal wrote.
func Unmarshal(b []byte) (Options, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}

	var (
		out Options
		err error
	)
	switch head.Type {
	case KindText:
		var v Text
		err = json.Unmarshal(b, &v)
		out = v
	case KindTemplate:
		var v Template
		err = json.Unmarshal(b, &v)
		out = v
	case KindMedia:
		var v Media
		err = json.Unmarshal(b, &v)
		out = v
	case KindInteractive:
		var v Interactive
		err = json.Unmarshal(b, &v)
		out = v
	case KindList:
		var v List
		err = json.Unmarshal(b, &v)
		out = v
	case KindLocation:
		var v Location
		err = json.Unmarshal(b, &v)
		out = v
	case KindContact:
		var v Contact
		err = json.Unmarshal(b, &v)
		out = v
	default:
		return nil, invalidKind(ErrUnsupportedMessageType, "type", "unsupported message type: %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s options: %w", head.Type, err)
	}
	return out, nil
}
