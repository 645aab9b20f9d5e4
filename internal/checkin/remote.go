package checkin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
)

// RemoteConfirmer confirms attendance through the HTTP API. The server
// identifies the user from the bearer token, so userID is not sent.
type RemoteConfirmer struct {
	BaseURL     string
	BearerToken string
	Client      *http.Client
}

var errorCodes = map[string]error{
	"invalid_token":   model.ErrInvalidToken,
	"not_registered":  model.ErrNotRegistered,
	"event_not_found": model.ErrEventNotFound,
	"invalid_input":   model.ErrInvalidInput,
}

// ConfirmAttendance posts payload to the event's check-in endpoint as the bearer's user.
func (c *RemoteConfirmer) ConfirmAttendance(ctx context.Context, eventID, _ string, payload string) (model.CheckInResult, error) {
	body, err := json.Marshal(model.CheckInRequest{Token: payload})
	if err != nil {
		return model.CheckInResult{}, fmt.Errorf("encode check-in: %w", err)
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/events/" + url.PathEscape(eventID) + "/check-in"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return model.CheckInResult{}, fmt.Errorf("build check-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.BearerToken)

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return model.CheckInResult{}, model.Transient("confirm attendance", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var res model.CheckInResult
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return model.CheckInResult{}, fmt.Errorf("decode check-in result: %w", err)
		}
		return res, nil
	}

	var apiErr model.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	if sentinel, ok := errorCodes[apiErr.Code]; ok {
		return model.CheckInResult{}, sentinel
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return model.CheckInResult{}, model.Transient("confirm attendance", fmt.Errorf("server returned %s", resp.Status))
	}
	return model.CheckInResult{}, fmt.Errorf("check-in failed: %s: %s", resp.Status, apiErr.Error)
}
