package captcha

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

// taskResponse covers the createTask / getTaskResult shape shared by the
// supported services. taskId is a string for CapSolver and a number for
// 2Captcha, so it is kept raw and echoed back verbatim.
type taskResponse struct {
	ErrorID          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	TaskID           json.RawMessage `json:"taskId"`
	Status           string          `json:"status"`
	Solution         map[string]any  `json:"solution"`
}

// taskService is a createTask/getTaskResult style solving API.
type taskService struct {
	name      string
	apiKey    string
	baseURL   string
	poll      time.Duration
	timeout   time.Duration
	client    *http.Client
	taskTypes map[string]string
}

func (s *taskService) Name() string {
	return s.name
}

func (s *taskService) Solve(ctx context.Context, captchaType, pageURL, siteKey string) (string, error) {
	taskType, ok := s.taskTypes[captchaType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, captchaType)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	created, err := s.request(ctx, "/createTask", map[string]any{
		"clientKey": s.apiKey,
		"task": map[string]any{
			"type":       taskType,
			"websiteURL": pageURL,
			"websiteKey": siteKey,
		},
	})
	if err != nil {
		return "", err
	}
	if created.ErrorID != 0 {
		return "", serviceError(s.name, created.ErrorCode, created.ErrorDescription)
	}

	res, err := s.pollResult(ctx, created.TaskID)
	if err != nil {
		return "", err
	}
	return extractToken(s.name, res.Solution)
}

func (s *taskService) pollResult(ctx context.Context, taskID json.RawMessage) (*taskResponse, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, errors.New("solve timeout")
		case <-time.After(s.poll):
		}

		res, err := s.request(ctx, "/getTaskResult", map[string]any{
			"clientKey": s.apiKey,
			"taskId":    taskID,
		})
		if err != nil {
			return nil, err
		}
		if res.ErrorID != 0 {
			return nil, serviceError(s.name, res.ErrorCode, res.ErrorDescription)
		}
		if res.Status == "ready" {
			return res, nil
		}
	}
}

func (s *taskService) request(ctx context.Context, path string, payload any) (*taskResponse, error) {
	return doJSONRequest[taskResponse](ctx, s.client, s.baseURL+path, payload, 3)
}

func extractToken(service string, solution map[string]any) (string, error) {
	for _, key := range []string{"gRecaptchaResponse", "token"} {
		if token, ok := solution[key].(string); ok && token != "" {
			return token, nil
		}
	}
	return "", fmt.Errorf("%s: no token in solution", service)
}

func doJSONRequest[T any](ctx context.Context, client *http.Client, uri string, payload any, maxRetries int) (*T, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(payloadBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		result := new(T)
		if err := json.Unmarshal(data, result); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", uri, err)
		}
		return result, nil
	}

	return nil, fmt.Errorf("API request failed after %d retries: %w", maxRetries, lastErr)
}
