// Package voicerelay provides the client side of the VOICE relay
// protocol: the HTTP client both parties use, the agent's Work Order
// builder, and the device's message lifecycle, quota tracking and
// protected keystore. All plaintext handling lives here; the relay only
// ever sees sealed blobs.
package voicerelay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a VOICE relay API client. The credential takes the form
// "<scheme>|<owner_id>|<token>" and is sent as a bearer token.
type Client struct {
	BaseURL    string
	Credential string
	HTTPClient *http.Client
}

// NewClient creates a client for the given relay.
func NewClient(baseURL, credential string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Credential: credential,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the relay.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

// GetPublicKeyResponse carries the published permanent public key.
type GetPublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// AskResponse acknowledges an accepted Work Order.
type AskResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// FetchedMessage is one stored message as returned by the relay.
type FetchedMessage struct {
	MessageID     string `json:"message_id"`
	EncryptedBlob string `json:"encrypted_blob"`
	CreatedAt     string `json:"created_at"`
	Status        string `json:"status"`
}

type messagesResponse struct {
	Messages []FetchedMessage `json:"messages"`
}

// RegisterPublicKey publishes the device's permanent public key.
// Idempotent.
func (c *Client) RegisterPublicKey(publicKeyPEM string) error {
	body := map[string]string{"public_key": publicKeyPEM}
	return c.post("/auth/register-public-key", body, nil)
}

// GetPublicKey fetches the recipient's permanent public key so a Work
// Order can be sealed for them.
func (c *Client) GetPublicKey() (string, error) {
	var resp GetPublicKeyResponse
	if err := c.post("/auth/get-public-key", map[string]string{}, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

// Ask submits a sealed Work Order blob and returns the relay message id.
func (c *Client) Ask(encryptedBlob string) (*AskResponse, error) {
	body := map[string]interface{}{
		"encrypted_blob":            encryptedBlob,
		"encrypted_blob_size_bytes": len(encryptedBlob),
	}
	var resp AskResponse
	if err := c.post("/agent/ask", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchMessages returns every stored message for this identity. The
// relay has no read-once semantics; dedupe by message id.
func (c *Client) FetchMessages() ([]FetchedMessage, error) {
	var resp messagesResponse
	if err := c.get("/app/messages", &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// AckMessage marks a message delivered after it is persisted locally.
func (c *Client) AckMessage(messageID string) error {
	return c.post("/app/messages/"+messageID+"/ack", map[string]string{}, nil)
}

func (c *Client) post(path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.Credential)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}
