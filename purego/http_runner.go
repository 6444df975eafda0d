package purego

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"nano-generate-go/nanogen"
)

const tokenizerTimeout = 30 * time.Second

// ServerInfo is returned by a token server's /info endpoint.
type ServerInfo struct {
	VocabSize  int    `json:"vocab_size"`
	EOSTokenID int    `json:"eos_token_id"`
	ModelType  string `json:"model_type"`
}

// httpClient posts JSON to a token server.
type httpClient struct {
	serverURL string
	client    *http.Client
}

func newHTTPClient(serverURL string) *httpClient {
	return &httpClient{
		serverURL: strings.TrimRight(serverURL, "/"),
		client:    &http.Client{},
	}
}

func (c *httpClient) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	return nil
}

// HTTPModelRunner implements ModelRunner against a remote token server. The
// server samples; each call returns one token per sequence.
type HTTPModelRunner struct {
	*httpClient
	info ServerInfo
}

// NewHTTPModelRunner connects to serverURL and fetches the model info.
func NewHTTPModelRunner(ctx context.Context, serverURL string, log *zap.Logger) (*HTTPModelRunner, error) {
	if log == nil {
		log = zap.NewNop()
	}

	runner := &HTTPModelRunner{httpClient: newHTTPClient(serverURL)}

	if err := runner.do(ctx, http.MethodGet, "/info", nil, &runner.info); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to server: %v", nanogen.ErrBackendUnavailable, err)
	}

	log.Debug("connected to token server",
		zap.String("url", serverURL),
		zap.String("model_type", runner.info.ModelType),
		zap.Int("vocab_size", runner.info.VocabSize))

	return runner, nil
}

// Info returns what the server reported at connect time.
func (m *HTTPModelRunner) Info() ServerInfo {
	return m.info
}

type inferenceSequence struct {
	TokenIDs    []int   `json:"token_ids"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
	TopP        float64 `json:"top_p"`
	DoSample    bool    `json:"do_sample"`
	Seed        uint64  `json:"seed,omitempty"`
	Index       int     `json:"index"`
}

type inferenceRequest struct {
	Sequences []inferenceSequence `json:"sequences"`
	IsPrefill bool                `json:"is_prefill"`
}

// Run executes inference via HTTP
func (m *HTTPModelRunner) Run(ctx context.Context, seqs []*nanogen.Sequence, isPrefill bool) ([]int, error) {
	req := inferenceRequest{
		Sequences: make([]inferenceSequence, len(seqs)),
		IsPrefill: isPrefill,
	}

	for i, seq := range seqs {
		req.Sequences[i] = inferenceSequence{
			TokenIDs:    seq.TokenIDs,
			Temperature: seq.Temperature,
			TopK:        seq.TopK,
			TopP:        seq.TopP,
			DoSample:    seq.DoSample,
			Seed:        seq.Seed,
			Index:       seq.Index,
		}
	}

	var result struct {
		TokenIDs []int `json:"token_ids"`
	}

	if err := m.do(ctx, http.MethodPost, "/inference", req, &result); err != nil {
		return nil, err
	}

	return result.TokenIDs, nil
}

// Close cleans up resources
func (m *HTTPModelRunner) Close() error {
	m.client.CloseIdleConnections()
	return nil
}

// HTTPTokenizer implements Tokenizer using HTTP calls. Every call is bound
// to the context the tokenizer was created with, so cancelling it aborts
// requests in flight.
type HTTPTokenizer struct {
	*httpClient
	ctx   context.Context
	eosID int
}

// NewHTTPTokenizer creates a new HTTP-based tokenizer
func NewHTTPTokenizer(ctx context.Context, serverURL string, eosID int) *HTTPTokenizer {
	return &HTTPTokenizer{
		httpClient: newHTTPClient(serverURL),
		ctx:        ctx,
		eosID:      eosID,
	}
}

// Encode converts text to token IDs via HTTP
func (t *HTTPTokenizer) Encode(text string) ([]int, error) {
	ctx, cancel := context.WithTimeout(t.ctx, tokenizerTimeout)
	defer cancel()

	req := struct {
		Text string `json:"text"`
	}{Text: text}

	var result struct {
		Tokens []int `json:"tokens"`
	}

	if err := t.do(ctx, http.MethodPost, "/tokenize", req, &result); err != nil {
		return nil, err
	}

	return result.Tokens, nil
}

// Decode converts token IDs to text via HTTP
func (t *HTTPTokenizer) Decode(tokenIDs []int, skipSpecial bool) (string, error) {
	ctx, cancel := context.WithTimeout(t.ctx, tokenizerTimeout)
	defer cancel()

	req := struct {
		Tokens            []int `json:"tokens"`
		SkipSpecialTokens bool  `json:"skip_special_tokens"`
	}{Tokens: tokenIDs, SkipSpecialTokens: skipSpecial}

	var result struct {
		Text string `json:"text"`
	}

	if err := t.do(ctx, http.MethodPost, "/detokenize", req, &result); err != nil {
		return "", err
	}

	return result.Text, nil
}

// EOSTokenID returns the EOS token ID
func (t *HTTPTokenizer) EOSTokenID() int {
	return t.eosID
}
