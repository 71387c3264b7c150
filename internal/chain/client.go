// Package chain wraps the Ethereum JSON-RPC surface the bot needs: receipt
// and block-height reads for confirmation tracking, ERC-20 balance/allowance
// reads, and calldata encoding for the trading contract.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Reader is the chain surface the transaction monitor polls. A nil receipt
// with a nil error means the transaction is not yet included.
type Reader interface {
	TransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client wraps an ethclient connection.
type Client struct {
	ec *ethclient.Client
}

// Dial connects to the given RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return &Client{ec: ec}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ec.Close()
}

// TransactionReceipt fetches the receipt for a transaction hash. A not-found
// answer is reported as a nil receipt so callers can keep polling.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	receipt, err := c.ec.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("chain: receipt %s: %w", txHash, err)
	}
	return receipt, nil
}

// BlockNumber returns the current chain head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.ec.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// call performs an eth_call against a contract.
func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// BalanceOf reads an ERC-20 balance.
func (c *Client) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("chain: pack balanceOf: %w", err)
	}
	out, err := c.call(ctx, common.HexToAddress(token), data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

// Allowance reads an ERC-20 spending allowance.
func (c *Client) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("chain: pack allowance: %w", err)
	}
	out, err := c.call(ctx, common.HexToAddress(token), data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

// Compile-time interface check.
var _ Reader = (*Client)(nil)
