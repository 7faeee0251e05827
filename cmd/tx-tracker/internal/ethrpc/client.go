package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
)

const (
	DefaultPollInterval   = 4 * time.Second
	DefaultWaitTimeout    = 3 * time.Minute
	DefaultRequestTimeout = 30 * time.Second

	getTransactionReceiptMethod = "eth_getTransactionReceipt"
)

var errReceiptNotFound = errors.New("transaction receipt not found")

type Options struct {
	// PollInterval is the delay between two eth_getTransactionReceipt calls
	// while the transaction is not mined yet.
	PollInterval time.Duration
	// WaitTimeout bounds WaitForReceipt as a whole.
	WaitTimeout time.Duration
	// RequestTimeout bounds every single HTTP round trip to the node.
	RequestTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	return o
}

// Client is a JSON-RPC client bound to a single Ethereum node endpoint.
type Client struct {
	url  string
	cli  *jrpc2.Client
	opts Options
}

func NewClient(url string, opts Options) *Client {
	opts = opts.withDefaults()
	ch := jhttp.NewChannel(url, &jhttp.ChannelOptions{
		Client: &http.Client{Timeout: opts.RequestTimeout},
	})
	return &Client{
		url:  url,
		cli:  jrpc2.NewClient(ch, nil),
		opts: opts,
	}
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// GetTransactionReceipt returns the receipt of the given transaction, or
// (nil, nil) when the node doesn't know about a mined transaction with that hash yet.
func (c *Client) GetTransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var result json.RawMessage
	if err := c.cli.CallResult(ctx, getTransactionReceiptMethod, []string{hash}, &result); err != nil {
		return nil, fmt.Errorf("%s(%s): %w", getTransactionReceiptMethod, hash, err)
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	receipt, err := ParseReceipt(result)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// WaitForReceipt polls the node until the transaction is mined. RPC and
// transport errors end the wait immediately.
func (c *Client) WaitForReceipt(ctx context.Context, hash string) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.WaitTimeout)
	defer cancel()

	var receipt Receipt
	poll := func() error {
		r, err := c.GetTransactionReceipt(ctx, hash)
		if err != nil {
			return backoff.Permanent(err)
		}
		if r == nil {
			return errReceiptNotFound
		}
		receipt = *r
		return nil
	}

	err := backoff.Retry(poll, backoff.WithContext(backoff.NewConstantBackOff(c.opts.PollInterval), ctx))
	switch {
	case err == nil:
		return receipt, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errReceiptNotFound):
		return Receipt{}, fmt.Errorf(
			"timed out while waiting for transaction with hash %q to be confirmed", hash)
	default:
		return Receipt{}, err
	}
}
