package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

type onlineRequest struct {
	License string `json:"license"`
}

type onlineResponse struct {
	Status *bool `json:"status"`
}

// verifyOnline posts the key to the vendor endpoint; the response status flag is the verdict
func (v *Verifier) verifyOnline(ctx context.Context, key string) error {
	if v.cfg.URL == "" {
		return errors.New("license URL not configured")
	}

	body, err := json.Marshal(onlineRequest{License: key})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build license request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("license request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("license server returned %d", resp.StatusCode)
	}

	var out onlineResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode license response: %w", err)
	}
	if out.Status == nil {
		return errors.New("license response missing status")
	}
	if !*out.Status {
		return errors.New("license rejected by server")
	}
	return nil
}
