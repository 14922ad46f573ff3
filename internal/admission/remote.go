package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
)

// ServiceKeyHeader carries the shared secret on service-to-service calls.
const ServiceKeyHeader = "X-Service-Key"

// RemoteValidator validates passes against an admission service running in
// another process.  Transport failures and unexpected answers are rejections.
type RemoteValidator struct {
	baseURL    string
	serviceKey string
	client     *http.Client
	log        *log.Logger
}

func NewRemoteValidator(baseURL, serviceKey string, logger *log.Logger) *RemoteValidator {
	if logger == nil {
		logger = log.New("admission")
	}
	return &RemoteValidator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: 3 * time.Second},
		log:        logger,
	}
}

type validateRequest struct {
	ClientKey string `json:"clientKey"`
	PassToken string `json:"passToken"`
}

func (v *RemoteValidator) ValidatePass(ctx context.Context, eventID, clientKey, token string) bool {
	ok, err := v.validate(ctx, eventID, clientKey, token)
	if err != nil {
		v.log.Errorf("event=%s client=%s remote pass validation failed closed: %v", eventID, clientKey, err)
		return false
	}
	return ok
}

func (v *RemoteValidator) validate(ctx context.Context, eventID, clientKey, token string) (bool, error) {
	body, err := json.Marshal(validateRequest{ClientKey: clientKey, PassToken: token})
	if err != nil {
		return false, err
	}
	endpoint := fmt.Sprintf("%s/queue/%s/validate-pass-token", v.baseURL, url.PathEscape(eventID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ServiceKeyHeader, v.serviceKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}
	var ok bool
	if err := json.NewDecoder(resp.Body).Decode(&ok); err != nil {
		return false, fmt.Errorf("decode: %w", err)
	}
	return ok, nil
}
