package nodehandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dots-platform/skrecovery-app/interfaces"
)

// Client reaches nodes over HTTP. It implements interfaces.NodeInvoker and
// interfaces.NodeBlobs.
type Client struct {
	// Endpoints maps node identifiers to base URLs such as
	// http://node-1:8080.
	Endpoints map[int]string
	Client    *http.Client
}

func NewClient(endpoints map[int]string) *Client {
	return &Client{Endpoints: endpoints, Client: http.DefaultClient}
}

func (c *Client) endpoint(node int) (string, error) {
	base, ok := c.Endpoints[node]
	if !ok {
		return "", fmt.Errorf("%w: no endpoint for node %d", interfaces.ErrInvalidParameters, node)
	}
	return strings.TrimSuffix(base, "/"), nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	httpClient := c.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("could not reach node: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("could not read node response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// errorFor restores the sentinel matching an error status. notFound is the
// sentinel a 404 stands for on the route.
func errorFor(status int, body []byte, notFound error) error {
	msg := strings.TrimSpace(string(body))
	switch status {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", interfaces.ErrInvalidParameters, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", notFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", interfaces.ErrMissingCorrelatedRandomness, msg)
	default:
		return fmt.Errorf("node returned %d: %s", status, msg)
	}
}

func (c *Client) Invoke(ctx context.Context, node int, inv interfaces.Invocation) ([]byte, error) {
	base, err := c.endpoint(node)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(ExecRequest{
		Session:  inv.Session,
		ClientID: inv.ClientID,
		InFiles:  inv.InFiles,
		OutFiles: inv.OutFiles,
		Args:     inv.Args,
	})
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/api/v1/exec/%s/%s", base, url.PathEscape(inv.App), inv.Operation)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	out, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errorFor(status, out, interfaces.ErrUnknownUser)
	}
	return out, nil
}

func blobURL(base, clientID, key string) string {
	return fmt.Sprintf("%s/api/v1/blob/%s/%s", base, url.PathEscape(clientID), key)
}

func (c *Client) PutBlob(ctx context.Context, node int, clientID, key string, data []byte) error {
	base, err := c.endpoint(node)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, blobURL(base, clientID, key), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	out, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return errorFor(status, out, interfaces.ErrBlobNotFound)
	}
	return nil
}

func (c *Client) GetBlob(ctx context.Context, node int, clientID, key string) ([]byte, error) {
	base, err := c.endpoint(node)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL(base, clientID, key), nil)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}

	out, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errorFor(status, out, interfaces.ErrBlobNotFound)
	}
	return out, nil
}
