package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// assemblyAITranscriber implements Transcriber over AssemblyAI's
// upload -> submit -> poll REST flow, adapted from the teacher's
// pkg/providers/stt/assemblyai.go into the batch Transcriber contract
// (upload takes the WAV clip directly rather than raw PCM, since
// BatchBackend already wraps the utterance in a WAV container).
type assemblyAITranscriber struct {
	apiKey     string
	language   string
	pollEveryS time.Duration
	baseURL    string
}

// AssemblyAIOption configures an assemblyAITranscriber.
type AssemblyAIOption func(*assemblyAITranscriber)

// WithAssemblyAIBaseURL overrides the production host, for tests.
func WithAssemblyAIBaseURL(url string) AssemblyAIOption {
	return func(t *assemblyAITranscriber) { t.baseURL = url }
}

// NewAssemblyAITranscriber builds a Transcriber for AssemblyAI's async
// transcription API. language is an optional AssemblyAI language code.
func NewAssemblyAITranscriber(apiKey, language string, opts ...AssemblyAIOption) Transcriber {
	t := &assemblyAITranscriber{
		apiKey:     apiKey,
		language:   language,
		pollEveryS: 500 * time.Millisecond,
		baseURL:    "https://api.assemblyai.com",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *assemblyAITranscriber) TranscribeClip(ctx context.Context, wav []byte) (string, error) {
	uploadURL, err := t.upload(ctx, wav)
	if err != nil {
		return "", fmt.Errorf("assemblyai upload: %w", err)
	}

	transcriptID, err := t.submit(ctx, uploadURL)
	if err != nil {
		return "", fmt.Errorf("assemblyai submit: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.pollEveryS):
			text, status, err := t.getTranscript(ctx, transcriptID)
			if err != nil {
				return "", fmt.Errorf("assemblyai poll: %w", err)
			}
			switch status {
			case "completed":
				return text, nil
			case "error":
				return "", fmt.Errorf("assemblyai transcription failed")
			}
		}
	}
}

func (t *assemblyAITranscriber) upload(ctx context.Context, wav []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v2/upload", bytes.NewReader(wav))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", t.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.UploadURL, nil
}

func (t *assemblyAITranscriber) submit(ctx context.Context, uploadURL string) (string, error) {
	payload := map[string]interface{}{"audio_url": uploadURL}
	if t.language != "" {
		payload["language_code"] = t.language
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.ID, nil
}

func (t *assemblyAITranscriber) getTranscript(ctx context.Context, id string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/v2/transcript/"+id, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", t.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", err
	}
	return result.Text, result.Status, nil
}
