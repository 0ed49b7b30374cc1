package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Gateway sends through an FCM-style HTTP push gateway: one JSON POST per
// device token, any 2xx response counts as accepted.
type Gateway struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

type gatewayRequest struct {
	Token string  `json:"token"`
	Msg   Message `json:"message"`
}

func NewGateway(url string, log zerolog.Logger) *Gateway {
	return &Gateway{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("component", "push.gateway").Logger(),
	}
}

func (g *Gateway) Send(ctx context.Context, token string, msg Message) error {
	body, err := json.Marshal(gatewayRequest{Token: token, Msg: msg})
	if err != nil {
		return fmt.Errorf("encode push request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push gateway: unexpected status %d for token %s", resp.StatusCode, truncToken(token))
	}
	return nil
}
