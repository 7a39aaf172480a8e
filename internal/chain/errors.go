package chain

import (
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrUnavailable marks failures to reach the node at all, as opposed to
	// the node answering with an error.
	ErrUnavailable = errors.New("chain unavailable")

	// ErrConfirmationTimeout is returned when a broadcast transaction is not
	// mined within the receipt timeout. Its fate is unknown.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)

// IsUnavailable reports whether err is a network-level failure
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}

	// The node answered, so it is reachable
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// classify tags network-level failures with ErrUnavailable
func classify(op string, err error) error {
	if IsUnavailable(err) && !errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
