package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupported       = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnrecognizedChain = 4902
)

// RPCError is an error reported by a wallet provider.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// ErrUserRejected is the canonical rejection returned by providers.
var ErrUserRejected = &RPCError{Code: CodeUserRejected, Message: "user rejected the request"}

// ErrUnresolvable is returned when a recipient or contract cannot be resolved.
var ErrUnresolvable = errors.New("address could not be resolved")

// IsUserRejection reports whether err means the user declined a wallet prompt.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == CodeUserRejected {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "action_rejected") || strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied")
}

type EventKind int

const (
	AccountsChanged EventKind = iota
	ChainChanged
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case AccountsChanged:
		return "accountsChanged"
	case ChainChanged:
		return "chainChanged"
	case Disconnected:
		return "disconnect"
	}
	return "unknown"
}

// Event is a provider notification.
type Event struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  *big.Int
	Err      error
}

// TxRequest is a transaction handed to the provider for signing and broadcast.
type TxRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
}

// PendingTx is a broadcast transaction awaiting inclusion.
type PendingTx interface {
	Hash() common.Hash
	Wait(ctx context.Context) (*gethtypes.Receipt, error)
}

// Provider is an injected wallet.
type Provider interface {
	Name() string
	// IsCanonical reports whether this provider is the preferred injected
	// wallet when several are present.
	IsCanonical() bool
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainIDHex string) error
	SignMessage(ctx context.Context, account common.Address, message []byte) (string, error)
	CallContract(ctx context.Context, call ethereum.CallMsg) ([]byte, error)
	SendTransaction(ctx context.Context, req TxRequest) (PendingTx, error)
	SubscribeEvents(ch chan<- Event) event.Subscription
}

// Select returns the canonical provider if present, otherwise the first one.
func Select(providers ...Provider) Provider {
	var first Provider
	for _, p := range providers {
		if p == nil {
			continue
		}
		if p.IsCanonical() {
			return p
		}
		if first == nil {
			first = p
		}
	}
	return first
}
