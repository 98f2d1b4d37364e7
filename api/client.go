package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/anonymous-tct-authors/tct-models/envconfig"
	"github.com/anonymous-tct-authors/tct-models/version"
)

// Client talks to the HTTP service.
type Client struct {
	base *url.URL
	http *http.Client
}

func NewClient(base *url.URL, http *http.Client) *Client {
	return &Client{base: base, http: http}
}

// ClientFromEnvironment builds a client for the host in TCT_HOST.
func ClientFromEnvironment() (*Client, error) {
	base, err := url.Parse("http://" + envconfig.Host)
	if err != nil {
		return nil, err
	}
	return NewClient(base, http.DefaultClient), nil
}

func checkError(resp *http.Response, body []byte) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	apiError := StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	if err := json.Unmarshal(body, &apiError); err != nil {
		// older servers may send a plain string
		apiError.ErrorMessage = string(body)
	}
	return apiError
}

func (c *Client) do(ctx context.Context, method, path string, reqData, respData any) error {
	var reqBody io.Reader
	if reqData != nil {
		data, err := json.Marshal(reqData)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reqBody)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", fmt.Sprintf("tct-models/%s", version.Version))

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	if err := checkError(response, body); err != nil {
		return err
	}
	if respData != nil {
		return json.Unmarshal(body, respData)
	}
	return nil
}

func (c *Client) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	var resp CompileResponse
	if err := c.do(ctx, http.MethodPost, "/api/compile", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Encode(ctx context.Context, req *EncodeRequest) (*EncodeResponse, error) {
	var resp EncodeResponse
	if err := c.do(ctx, http.MethodPost, "/api/encode", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Decode(ctx context.Context, req *DecodeRequest) (*DecodeResponse, error) {
	var resp DecodeResponse
	if err := c.do(ctx, http.MethodPost, "/api/decode", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Mask(ctx context.Context, req *MaskRequest) (*MaskResponse, error) {
	var resp MaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/mask", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Schemas(ctx context.Context) (*SchemaResponse, error) {
	var resp SchemaResponse
	if err := c.do(ctx, http.MethodGet, "/api/schemas", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Version queries the server build version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}
