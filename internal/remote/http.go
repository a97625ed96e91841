package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/apperrors"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/logging"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/models"
)

// transientRetries is the number of extra tries inside one logical
// attempt. Queue-level attempt accounting stays unaware of these.
const transientRetries = 2

const probeTimeout = 5 * time.Second

// HTTPClient implements Client against the backend REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)
var _ Prober = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the backend at baseURL.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Online reports backend reachability with a cheap HEAD probe. Any
// response, even an error status, proves the link is up.
func (c *HTTPClient) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (c *HTTPClient) UpsertStepComment(ctx context.Context, workOrderID, stepID, actorID, comment string) error {
	body := map[string]string{
		"work_order_id": workOrderID,
		"step_id":       stepID,
		"actor_id":      actorID,
		"comment":       comment,
	}
	return c.call(ctx, http.MethodPost, "/rest/v1/step_comments", body, nil, http.Header{
		"Prefer": []string{"resolution=merge-duplicates"},
	})
}

func (c *HTTPClient) InsertDataRecord(ctx context.Context, rec *DataRecord) (string, error) {
	rec.Active = true
	var created struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/rest/v1/data_records", rec, &created, nil); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", apperrors.New(apperrors.CodeRemoteWrite, "backend returned no record id")
	}
	return created.ID, nil
}

func (c *HTTPClient) DeactivateDataRecord(ctx context.Context, remoteID string) error {
	body := map[string]bool{"active": false}
	path := "/rest/v1/data_records/" + url.PathEscape(remoteID)
	return c.call(ctx, http.MethodPatch, path, body, nil, nil)
}

func (c *HTTPClient) InsertFilledValue(ctx context.Context, v *FilledValue) error {
	return c.call(ctx, http.MethodPost, "/rest/v1/filled_values", v, nil, nil)
}

func (c *HTTPClient) FinalizeAudit(ctx context.Context, workOrderID, actorID string, payload json.RawMessage) error {
	body := map[string]interface{}{
		"actor_id": actorID,
		"audit":    payload,
	}
	path := "/rest/v1/work_orders/" + url.PathEscape(workOrderID) + "/finalize"
	return c.call(ctx, http.MethodPost, path, body, nil, nil)
}

func (c *HTTPClient) UpdateWorkOrderStatus(ctx context.Context, workOrderID, status string) error {
	body := map[string]string{"status": status}
	path := "/rest/v1/work_orders/" + url.PathEscape(workOrderID)
	return c.call(ctx, http.MethodPatch, path, body, nil, nil)
}

// UploadPhoto streams the photo body; it is not buffered through the JSON
// path. The backend assigns the storage id.
func (c *HTTPClient) UploadPhoto(ctx context.Context, asset *models.PhotoAsset, content io.Reader) (string, error) {
	path := "/storage/v1/photos/" + url.PathEscape(asset.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, content)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeRemoteWrite, "build upload request", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("X-Work-Order-Id", asset.WorkOrderID)
	req.Header.Set("X-Photo-Kind", string(asset.Kind))
	if asset.Size > 0 {
		req.ContentLength = asset.Size
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeRemoteWrite, "upload photo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", c.statusError(resp)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", apperrors.Wrap(apperrors.CodeRemoteWrite, "decode upload response", err)
	}
	if created.ID == "" {
		return "", apperrors.New(apperrors.CodeRemoteWrite, "backend returned no photo id")
	}
	return created.ID, nil
}

func (c *HTTPClient) FetchCollection(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	target := c.baseURL + endpoint
	if len(params) > 0 {
		values := url.Values{}
		for name, value := range params {
			values.Set(name, value)
		}
		target += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRemoteWrite, "build fetch request", err)
	}
	c.authorize(req)

	var body json.RawMessage
	operation := func() error {
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return c.statusError(resp)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return backoff.Permanent(c.statusError(resp))
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}
	if err := c.retry(ctx, operation); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	return body, nil
}

// call runs one JSON request with transient retry. Bodies are re-marshaled
// per try so a retried request never reuses a drained reader. A 4xx is
// permanent; network errors and 5xx are retried within this one logical
// attempt.
func (c *HTTPClient) call(ctx context.Context, method, path string, payload, out interface{}, extra http.Header) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalid, "encode request payload", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for name, values := range extra {
			for _, value := range values {
				req.Header.Add(name, value)
			}
		}
		c.authorize(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return c.statusError(resp)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return backoff.Permanent(c.statusError(resp))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}

	if err := c.retry(ctx, operation); err != nil {
		return apperrors.Wrap(apperrors.CodeRemoteWrite, method+" "+path, err)
	}
	return nil
}

func (c *HTTPClient) retry(ctx context.Context, operation backoff.Operation) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), transientRetries), ctx)
	return backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		logging.Debug("retrying transient backend failure", logging.Fields{
			"reason": err.Error(),
			"wait":   wait.String(),
		})
	})
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("apikey", c.apiKey)
	}
}

func (c *HTTPClient) statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("backend responded %s: %s", strconv.Itoa(resp.StatusCode), bytes.TrimSpace(snippet))
}
