// Package client is the HTTP transport for the board controller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BuzzLyutic/taskboard/internal/board"
	"github.com/BuzzLyutic/taskboard/internal/model"
	"github.com/BuzzLyutic/taskboard/pkg/respond"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// Таймаут конкретного перемещения задает контроллер через ctx
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a failure the server reported that has no board error kind.
type APIError struct {
	Status int
	Body   respond.ErrorBody
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body.Error)
}

type moveBody struct {
	TaskID       int64        `json:"task_id"`
	TargetStatus model.Status `json:"target_status"`
	TargetIndex  *int         `json:"target_index,omitempty"`
}

func (c *Client) Move(ctx context.Context, req model.MoveRequest) (model.MoveResult, error) {
	body := moveBody{TaskID: req.TaskID, TargetStatus: req.TargetStatus}
	if req.TargetIndex != board.EndOfColumn {
		// Сервер отклоняет отрицательные индексы
		index := max(req.TargetIndex, 0)
		body.TargetIndex = &index
	}

	var res model.MoveResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tasks/%d/move", req.TaskID), body, &res)
	return res, err
}

func (c *Client) ChangeStatus(ctx context.Context, taskID int64, status model.Status) (model.MoveResult, error) {
	var res model.MoveResult
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/tasks/%d/status", taskID), map[string]model.Status{"status": status}, &res)
	return res, err
}

func (c *Client) Board(ctx context.Context, projectID int64) ([]model.Column, error) {
	var res struct {
		Columns []model.Column `json:"columns"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/projects/%d/board", projectID), nil, &res)
	return res.Columns, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var env respond.ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		env.Error = http.StatusText(resp.StatusCode)
	}

	switch env.Kind {
	case respond.KindNotFound:
		return board.ErrNotFound
	case respond.KindConflict:
		return board.ErrConflict
	case respond.KindForbidden:
		return &board.ForbiddenError{Reason: model.DenyReason(env.Reason), Message: env.Error}
	}
	return &APIError{Status: resp.StatusCode, Body: env}
}
