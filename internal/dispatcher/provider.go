package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmehdipour/wadispatch/internal/model"
)

// Provider is one outbound SMS gateway.
type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, sms model.SMS, lane model.Lane) Result
}

type HTTPProvider struct {
	name        string
	baseURL     string
	normalPath  string
	expressPath string
	apiKey      string
	client      *http.Client
	br          *MicroBreaker
}

type HTTPProviderConfig struct {
	Name          string
	BaseURL       string
	NormalPath    string
	ExpressPath   string
	APIKey        string
	TimeoutMs     int
	FailThreshold int
	OpenForMs     int
}

func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 10000
	}

	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 3
	}

	if cfg.OpenForMs <= 0 {
		cfg.OpenForMs = 15000
	}

	if cfg.ExpressPath == "" {
		cfg.ExpressPath = cfg.NormalPath
	}

	return &HTTPProvider{
		name:        cfg.Name,
		baseURL:     cfg.BaseURL,
		normalPath:  cfg.NormalPath,
		expressPath: cfg.ExpressPath,
		apiKey:      cfg.APIKey,
		client:      &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		br:          NewMicroBreaker(cfg.FailThreshold, time.Duration(cfg.OpenForMs)*time.Millisecond),
	}
}

func (p *HTTPProvider) Name() string  { return p.name }
func (p *HTTPProvider) Ready() bool   { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool { return p.br.TryAcquire() }

func (p *HTTPProvider) Send(ctx context.Context, sms model.SMS, lane model.Lane) Result {
	path := p.normalPath
	if lane == model.LaneExpress {
		path = p.expressPath
	}

	res := p.post(ctx, path, sms)
	if res.Kind == KindTransport {
		p.br.OnFailure()
	} else {
		p.br.OnSuccess()
	}

	return res
}

func (p *HTTPProvider) post(ctx context.Context, path string, sms model.SMS) Result {
	b, _ := json.Marshal(sms)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return transportFailure(err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return transportFailure(err)
	}

	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))

	if res.StatusCode/100 != 2 {
		kind := KindRemote
		if res.StatusCode >= 500 {
			kind = KindTransport
		}
		return Result{
			ErrorMessage: fmt.Sprintf("provider=%s path=%s status=%d", p.name, path, res.StatusCode),
			ErrorCode:    res.StatusCode,
			Kind:         kind,
			Raw:          jsonOrNil(raw),
		}
	}

	var ack struct {
		MessageID string `json:"message_id"`
		ID        string `json:"id"`
	}
	_ = json.Unmarshal(raw, &ack)
	id := ack.MessageID
	if id == "" {
		id = ack.ID
	}

	return Result{Success: true, MessageID: id, Kind: KindNone, Raw: jsonOrNil(raw)}
}

func jsonOrNil(b []byte) json.RawMessage {
	if !json.Valid(b) {
		return nil
	}
	return json.RawMessage(b)
}
