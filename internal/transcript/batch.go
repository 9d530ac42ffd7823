package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBatchBaseURL = "https://api.assemblyai.com"

// ErrTranscriptFailed is returned when AssemblyAI reports a failed job.
var ErrTranscriptFailed = errors.New("transcription job failed")

// BatchClient transcribes finalized audio captures through the AssemblyAI
// HTTP API: upload the audio, create a transcript job, poll until done.
type BatchClient struct {
	APIKey   string
	Language string
	BaseURL  string

	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client

	// PollInterval defaults to one second.
	PollInterval time.Duration
}

// NewBatchClient builds a batch client for the given language.
func NewBatchClient(apiKey, language string) *BatchClient {
	return &BatchClient{APIKey: apiKey, Language: language}
}

func (c *BatchClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (c *BatchClient) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBatchBaseURL
}

func (c *BatchClient) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return time.Second
}

// Transcribe uploads raw audio and blocks until the transcript job settles
// or ctx is done.
func (c *BatchClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("assemblyai api key is empty")
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio")
	}

	audioURL, err := c.upload(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	jobID, err := c.createJob(ctx, audioURL)
	if err != nil {
		return "", fmt.Errorf("create transcript job: %w", err)
	}
	return c.await(ctx, jobID)
}

func (c *BatchClient) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/v2/upload", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload returned %d: %s", resp.StatusCode, body)
	}
	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", fmt.Errorf("upload response missing upload_url")
	}
	return out.UploadURL, nil
}

func (c *BatchClient) createJob(ctx context.Context, audioURL string) (string, error) {
	payload := map[string]any{"audio_url": audioURL}
	if c.Language != "" {
		payload["language_code"] = c.Language
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcript request returned %d: %s", resp.StatusCode, b)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("transcript response missing id")
	}
	return out.ID, nil
}

func (c *BatchClient) await(ctx context.Context, jobID string) (string, error) {
	ticker := time.NewTicker(c.pollInterval())
	defer ticker.Stop()
	for {
		text, done, err := c.pollOnce(ctx, jobID)
		if err != nil {
			return "", err
		}
		if done {
			return text, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *BatchClient) pollOnce(ctx context.Context, jobID string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/v2/transcript/"+jobID, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Authorization", c.APIKey)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", false, fmt.Errorf("poll returned %d: %s", resp.StatusCode, b)
	}
	var out struct {
		Status string `json:"status"`
		Text   string `json:"text"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, err
	}
	switch out.Status {
	case "completed":
		return out.Text, true, nil
	case "error":
		return "", false, fmt.Errorf("%w: %s", ErrTranscriptFailed, out.Error)
	default:
		return "", false, nil
	}
}
