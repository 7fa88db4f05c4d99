package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/payload"
)

var ErrMissingCredentials = errors.New("whatsapp: phone number id and access token are required")

const (
	DefaultGraphURL      = "https://graph.facebook.com"
	DefaultAPIVersion    = "v20.0"
	DefaultTimeout       = 30 * time.Second
	DefaultUploadTimeout = 60 * time.Second

	maxResponseBody = 1 << 20
)

type WhatsAppConfig struct {
	PhoneNumberID string
	AccessToken   string
	AppSecret     string
	BaseURL       string
	APIVersion    string
	Timeout       time.Duration
	UploadTimeout time.Duration
}

type WhatsAppClient struct {
	messagesURL string
	mediaURL    string
	token       string
	appSecret   []byte
	client      *http.Client
	upload      *http.Client
}

func NewWhatsAppClient(cfg WhatsAppConfig) (*WhatsAppClient, error) {
	if cfg.PhoneNumberID == "" || cfg.AccessToken == "" {
		return nil, ErrMissingCredentials
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphURL
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}

	base := fmt.Sprintf("%s/%s/%s", strings.TrimRight(cfg.BaseURL, "/"), cfg.APIVersion, cfg.PhoneNumberID)

	return &WhatsAppClient{
		messagesURL: base + "/messages",
		mediaURL:    base + "/media",
		token:       cfg.AccessToken,
		appSecret:   []byte(cfg.AppSecret),
		client:      &http.Client{Timeout: cfg.Timeout},
		upload:      &http.Client{Timeout: cfg.UploadTimeout},
	}, nil
}

func (c *WhatsAppClient) Send(ctx context.Context, p payload.Payload) Result {
	b, err := p.Marshal()
	if err != nil {
		return Result{ErrorMessage: fmt.Sprintf("encode payload: %v", err), Kind: KindRemote}
	}

	return c.postJSON(ctx, b)
}

// SendAsync runs Send on its own goroutine. The channel receives exactly one
// Result and is then closed.
func (c *WhatsAppClient) SendAsync(ctx context.Context, p payload.Payload) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- c.Send(ctx, p)
	}()

	return out
}

func (c *WhatsAppClient) MarkAsRead(ctx context.Context, messageID string) Result {
	b, _ := json.Marshal(map[string]string{
		"messaging_product": payload.MessagingProduct,
		"status":            "read",
		"message_id":        messageID,
	})

	res := c.postJSON(ctx, b)
	if res.Kind == KindRemote && res.ErrorMessage == "Unknown response format" {
		// read receipts answer {"success":true} instead of a messages array
		var ack struct {
			Success bool `json:"success"`
		}
		if json.Unmarshal(res.Raw, &ack) == nil && ack.Success {
			return Result{Success: true, MessageID: messageID, Kind: KindNone, Raw: res.Raw}
		}
	}

	return res
}

func (c *WhatsAppClient) postJSON(ctx context.Context, body []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL, bytes.NewReader(body))
	if err != nil {
		return transportFailure(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.client.Do(req)
	if err != nil {
		logger.Log.Warn("whatsapp send failed", zap.Error(err))
		return transportFailure(err)
	}

	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return transportFailure(err)
	}

	return parseResponse(res.StatusCode, raw)
}

// UploadMedia posts a file to the media endpoint. When mimeType is empty it
// is derived from the filename, then from the content.
func (c *WhatsAppClient) UploadMedia(ctx context.Context, filename, mimeType string, r io.Reader) UploadResult {
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(filename))
	}

	if mimeType == "" {
		var head bytes.Buffer
		mt, err := mimetype.DetectReader(io.TeeReader(r, &head))
		if err != nil || mt == nil {
			return UploadResult{ErrorMessage: "Could not determine MIME type", Kind: KindRemote}
		}
		mimeType = mt.String()
		r = io.MultiReader(&head, r)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("messaging_product", payload.MessagingProduct); err != nil {
		return UploadResult{ErrorMessage: err.Error(), Kind: KindTransport}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return UploadResult{ErrorMessage: err.Error(), Kind: KindTransport}
	}

	if _, err := io.Copy(part, r); err != nil {
		return UploadResult{ErrorMessage: fmt.Sprintf("read file: %v", err), Kind: KindTransport}
	}

	if err := mw.Close(); err != nil {
		return UploadResult{ErrorMessage: err.Error(), Kind: KindTransport}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.mediaURL, &buf)
	if err != nil {
		return UploadResult{ErrorMessage: err.Error(), Kind: KindTransport}
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.upload.Do(req)
	if err != nil {
		logger.Log.Warn("media upload failed", zap.String("filename", filename), zap.Error(err))
		return UploadResult{ErrorMessage: err.Error(), Kind: KindTransport}
	}

	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))

	var out struct {
		ID    string `json:"id"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		kind := KindRemote
		if res.StatusCode >= 500 {
			kind = KindTransport
		}
		return UploadResult{ErrorMessage: fmt.Sprintf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(raw))), Kind: kind}
	}

	if out.Error != nil {
		return UploadResult{ErrorMessage: out.Error.Message, Kind: KindRemote}
	}

	if out.ID == "" {
		return UploadResult{ErrorMessage: "Unknown response format", Kind: KindRemote}
	}

	return UploadResult{Success: true, MediaID: out.ID, Kind: KindNone}
}
