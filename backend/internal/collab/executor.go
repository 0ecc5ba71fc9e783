package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Response 是请求执行器的统一返回：success=false 一律按提交失败处理，
// 触发乐观变更回滚。
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RequestExecutor 是同步核心对 HTTP 层的唯一依赖面。
// 实现负责注入 bearer token；核心不关心认证细节。
type RequestExecutor interface {
	Do(ctx context.Context, method, path string, body any) (Response, error)
}

// HTTPExecutor 是 RequestExecutor 的 net/http 实现。
type HTTPExecutor struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPExecutor(baseURL, token string) *HTTPExecutor {
	return &HTTPExecutor{
		// 统一去掉尾部斜杠，避免拼出双斜杠路径
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (h *HTTPExecutor) Do(ctx context.Context, method, path string, body any) (Response, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		// 超时也走这里：对调用方来说等同提交失败
		return Response{}, err
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out.Success = false
		if out.Error == "" {
			out.Error = fmt.Sprintf("http status %d", resp.StatusCode)
		}
	}
	return out, nil
}
