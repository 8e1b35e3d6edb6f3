package providers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// GameMail delivers purchases by posting them to the game's mail service.
type GameMail struct {
	BaseURL string
	Path    string
	Secret  string
	Client  *http.Client
}

func NewGameMail(baseURL, path, secret string, timeout time.Duration) *GameMail {
	return &GameMail{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Path:    path,
		Secret:  secret,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *GameMail) Deliver(ctx context.Context, d Delivery) error {
	start := time.Now()

	jsonBody, err := json.Marshal(d)
	if err != nil {
		return err
	}

	url := g.BaseURL + g.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reference-Id", d.ReferenceID)
	if g.Secret != "" {
		req.Header.Set("X-Signature", Sign(g.Secret, jsonBody))
	}

	log.Printf("📤 [GameMail.Deliver] %s ref=%s user=%s", url, d.ReferenceID, d.UserID)

	resp, err := g.Client.Do(req)
	if err != nil {
		log.Printf("❌ [GameMail.Deliver] request failed: %v", err)
		return err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("❌ [GameMail.Deliver] ref=%s status=%s body=%s", d.ReferenceID, resp.Status, string(bodyBytes))
		return fmt.Errorf("delivery rejected, status: %s", resp.Status)
	}

	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &result); err != nil {
			return fmt.Errorf("decode delivery response: %w", err)
		}
		if !result.Success {
			return fmt.Errorf("delivery rejected: %s", result.Message)
		}
	}

	log.Printf("✅ [GameMail.Deliver] ref=%s delivered in %v", d.ReferenceID, time.Since(start))
	return nil
}
