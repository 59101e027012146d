package extraction

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// exchange records the status and body of the provider response for one call,
// since the SDKs only surface decoded values.
type exchange struct {
	status int
	body   []byte
}

type exchangeKey struct{}

func withExchange(ctx context.Context) (context.Context, *exchange) {
	ex := &exchange{}
	return context.WithValue(ctx, exchangeKey{}, ex), ex
}

// record buffers the response body into the exchange carried by the request
// context, leaving a readable copy on resp.
func record(req *http.Request, resp *http.Response) error {
	ex, ok := req.Context().Value(exchangeKey{}).(*exchange)
	if !ok || resp == nil || resp.Body == nil {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}
	ex.status = resp.StatusCode
	ex.body = body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return nil
}

// recordingDoer is an HTTP client that records every response it returns.
type recordingDoer struct {
	client *http.Client
}

func (d recordingDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if err := record(req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// transient reports whether a provider status is worth retrying.
func transient(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
