// Package notify despacha webhooks a colaboradores externos en cada cambio
// de estado de un comprobante. Mejor esfuerzo: los fallos se registran, no
// se propagan al pipeline.
package notify

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("component", "notify")

const eventStatusChanged = "document.status_changed"

// WebhookDispatcher POST del evento al endpoint configurado.
type WebhookDispatcher struct {
	url        string
	httpClient *http.Client
}

func NewWebhookDispatcher(url string, httpClient *http.Client) *WebhookDispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookDispatcher{url: url, httpClient: httpClient}
}

func (d *WebhookDispatcher) DocumentStatusChanged(ctx context.Context, clave, status string, ts time.Time) {
	if d.url == "" {
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("event")
	e.Str(eventStatusChanged)
	e.FieldStart("id")
	e.Str(uuid.NewString())
	e.FieldStart("documentKey")
	e.Str(clave)
	e.FieldStart("status")
	e.Str(status)
	e.FieldStart("timestamp")
	e.Str(ts.UTC().Format(time.RFC3339))
	e.ObjEnd()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(e.Bytes()))
	if err != nil {
		logger.Errorf("build webhook request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		logger.WithField("clave", clave).Warnf("webhook delivery failed: %v", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		logger.WithField("clave", clave).Warnf("webhook endpoint returned status %d", resp.StatusCode)
	}
}
