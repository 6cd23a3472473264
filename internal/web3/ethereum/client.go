package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"VoiceSwap/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	backend   chainBackend
	mu        sync.Mutex
}

// chainBackend mirrors the subset of ethclient methods the client relies on.
type chainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		backend:   ethclient.NewClient(rpcClient),
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	c.rpcClient = nil
	c.backend = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	backend, err := c.chainBackend()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// TransactionReceipt looks up the receipt for txHash. A transaction that has
// not been mined yet is reported as pending rather than as an error.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (web3.Receipt, error) {
	backend, err := c.chainBackend()
	if err != nil {
		return web3.Receipt{}, err
	}
	txHash = strings.TrimSpace(txHash)
	if !isTxHash(txHash) {
		return web3.Receipt{}, fmt.Errorf("非法的交易哈希: %q", txHash)
	}

	receipt, err := backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return web3.Receipt{TxHash: txHash, State: web3.ReceiptPending}, nil
		}
		return web3.Receipt{}, fmt.Errorf("查询交易回执失败: %w", err)
	}
	if receipt == nil {
		return web3.Receipt{TxHash: txHash, State: web3.ReceiptPending}, nil
	}

	result := web3.Receipt{TxHash: txHash, State: web3.ReceiptFailed}
	if receipt.Status == coretypes.ReceiptStatusSuccessful {
		result.State = web3.ReceiptConfirmed
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return result, nil
}

func (c *Client) chainBackend() (chainBackend, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.backend, nil
}

func isTxHash(value string) bool {
	raw := strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
	if len(raw) != 2*common.HashLength {
		return false
	}
	for _, r := range raw {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
