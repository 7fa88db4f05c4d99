package options

import (
	"strconv"
	"unicode/utf8"
)

const MaxButtonTitle = 20

// ---- Template parameters ----

func TextParam(value string) Object {
	return Object{"type": "text", "text": value}
}

func CurrencyParam(code string, amount1000 int64, fallback string) Object {
	return Object{"type": "currency", "currency": Object{
		"code":           code,
		"amount_1000":    amount1000,
		"fallback_value": fallback,
	}}
}

func DateTimeParam(unix int64) Object {
	return Object{"type": "date_time", "date_time": Object{
		"fallback_value": strconv.FormatInt(unix, 10),
	}}
}

func mediaRef(field, id, link string) (Object, error) {
	if id == "" && link == "" {
		return nil, invalid(field, "either media id or link must be provided")
	}
	if id != "" {
		return Object{"id": id}, nil
	}
	return Object{"link": link}, nil
}

func ImageParam(id, link string) (Object, error) {
	ref, err := mediaRef("image", id, link)
	if err != nil {
		return nil, err
	}
	return Object{"type": "image", "image": ref}, nil
}

func VideoParam(id, link string) (Object, error) {
	ref, err := mediaRef("video", id, link)
	if err != nil {
		return nil, err
	}
	return Object{"type": "video", "video": ref}, nil
}

func DocumentParam(id, link, filename string) (Object, error) {
	ref, err := mediaRef("document", id, link)
	if err != nil {
		return nil, err
	}
	if filename != "" {
		ref["filename"] = filename
	}
	return Object{"type": "document", "document": ref}, nil
}

// ---- Buttons ----

func ReplyButton(id, title string) (Object, error) {
	if utf8.RuneCountInString(title) > MaxButtonTitle {
		return nil, invalid("buttons.title", "button title must be %d characters or fewer", MaxButtonTitle)
	}
	return Object{"type": "reply", "reply": Object{"id": id, "title": title}}, nil
}

func URLButton(url, title string) Object {
	return Object{"type": "url", "url": url, "text": title}
}

func CallButton(phone, title string) Object {
	return Object{"type": "phone_number", "phone_number": phone, "text": title}
}

func CopyCodeButton(code string) Object {
	return Object{"type": "text", "text": code}
}

func CouponCodeButton(code string) Object {
	return Object{"type": "coupon_code", "coupon_code": code}
}

// ButtonObject builds the wire form of an interactive button.
func ButtonObject(b Button) (Object, error) {
	switch b.Type {
	case ButtonReply:
		return ReplyButton(b.ID, b.Title)
	case ButtonURL:
		return URLButton(b.URL, b.Title), nil
	case ButtonPhoneNumber:
		return CallButton(b.Phone, b.Title), nil
	case ButtonCopyCode:
		return CopyCodeButton(b.Code), nil
	case ButtonCouponCode:
		return CouponCodeButton(b.Code), nil
	default:
		return nil, invalidKind(ErrUnsupportedButtonType, "buttons.type", "unsupported button type: %q", b.Type)
	}
}

// templateButtonParam builds the parameter of a known template button
// sub_type. ok is false for sub_types the grammar does not know.
func templateButtonParam(subType string, param any, title string) (obj Object, ok bool, err error) {
	build := func(fn func(string) Object) (Object, bool, error) {
		s, isStr := param.(string)
		if !isStr {
			return nil, true, invalidKind(ErrInvalidParameterType, "button_params.param",
				"%s button expects a string parameter, got %T", subType, param)
		}
		return fn(s), true, nil
	}

	switch subType {
	case "url":
		return build(func(s string) Object { return URLButton(s, title) })
	case "phone_number":
		return build(func(s string) Object { return CallButton(s, title) })
	case "copy_code":
		return build(CopyCodeButton)
	case "coupon_code":
		return build(CouponCodeButton)
	default:
		return nil, false, nil
	}
}
