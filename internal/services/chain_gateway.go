package services

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"topup-backend/internal/config"
	"topup-backend/internal/metrics"
	"topup-backend/internal/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// ERC20ABI the subset of ERC-20 used for top-ups
const ERC20ABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var erc20ABI = mustParseABI(ERC20ABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

var ErrUnsupportedChain = errors.New("unsupported chain")

// ConfirmationStatus final state of a mined transaction
type ConfirmationStatus string

const (
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationReverted  ConfirmationStatus = "reverted"
)

// TransferRequest value transfer to submit. Amount is in base units.
type TransferRequest struct {
	ChainID       int64
	To            string
	Amount        *big.Int
	TokenContract string // empty = native transfer
}

// ChainGateway submits and confirms transfers, and performs read-only calls
type ChainGateway interface {
	SubmitTransfer(ctx context.Context, req TransferRequest) (string, error)
	WaitForConfirmation(ctx context.Context, chainID int64, txHash string) (ConfirmationStatus, error)
	CallContract(ctx context.Context, chainID int64, contract, abiJSON, method string, args ...interface{}) ([]interface{}, error)
	// SenderAddress account transfers are paid from, empty when none is configured
	SenderAddress() string
}

// ethBackend the ethclient surface the gateway relies on
type ethBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// EthChainGateway ChainGateway over go-ethereum RPC clients, one per enabled network
type EthChainGateway struct {
	backends map[int64]ethBackend
	networks map[int64]config.NetworkConfig
	key      *ecdsa.PrivateKey
	from     common.Address
	logger   *logrus.Logger

	// overrides the per-network poll interval when non-zero
	pollInterval time.Duration
}

// NewEthChainGateway dials every enabled network, trying RPC endpoints in order
func NewEthChainGateway(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*EthChainGateway, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	key, err := ParsePrivateKey(cfg.Blockchain.WalletPrivateKey)
	if err != nil {
		return nil, err
	}

	networks := cfg.EnabledNetworks()
	backends := make(map[int64]ethBackend, len(networks))
	for chainID, network := range networks {
		client, endpoint, err := dialNetwork(ctx, network, logger)
		if err != nil {
			for _, b := range backends {
				b.Close()
			}
			return nil, fmt.Errorf("failed to connect to %s network: %w", network.Name, err)
		}
		logger.WithFields(logrus.Fields{
			"network":  network.Name,
			"chain_id": chainID,
			"endpoint": endpoint,
		}).Info("✅ Chain RPC connected")
		backends[chainID] = client
	}

	return newEthChainGateway(networks, backends, key, logger), nil
}

func newEthChainGateway(networks map[int64]config.NetworkConfig, backends map[int64]ethBackend, key *ecdsa.PrivateKey, logger *logrus.Logger) *EthChainGateway {
	g := &EthChainGateway{
		backends: backends,
		networks: networks,
		key:      key,
		logger:   logger,
	}
	if key != nil {
		g.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return g
}

// ParsePrivateKey decodes a hex wallet key; empty yields a nil key
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		// read-only gateway: confirmations and calls still work
		return nil, nil
	}
	key, err := crypto.HexToECDSA(utils.Strip0x(strings.TrimSpace(hexKey)))
	if err != nil {
		return nil, fmt.Errorf("invalid wallet private key: %w", err)
	}
	return key, nil
}

func dialNetwork(ctx context.Context, network config.NetworkConfig, logger *logrus.Logger) (*ethclient.Client, string, error) {
	if len(network.RPCEndpoints) == 0 {
		return nil, "", fmt.Errorf("no rpc endpoints configured")
	}
	var lastErr error
	for i, endpoint := range network.RPCEndpoints {
		client, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			lastErr = err
			logger.WithFields(logrus.Fields{"endpoint": endpoint, "attempt": i + 1, "error": err}).Warn("❌ Dial failed")
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		chainID, err := client.ChainID(checkCtx)
		cancel()
		if err != nil {
			lastErr = err
			client.Close()
			logger.WithFields(logrus.Fields{"endpoint": endpoint, "error": err}).Warn("❌ ChainID check failed")
			continue
		}
		if chainID.Int64() != network.ChainID {
			lastErr = fmt.Errorf("endpoint %s reports chain %s, expected %d", endpoint, chainID, network.ChainID)
			client.Close()
			logger.WithError(lastErr).Warn("⚠️ Chain ID mismatch")
			continue
		}
		return client, endpoint, nil
	}
	return nil, "", lastErr
}

// From funding wallet address, zero when no key is configured
func (g *EthChainGateway) From() common.Address {
	return g.from
}

// SenderAddress lowercase funding wallet address, empty when no key is configured
func (g *EthChainGateway) SenderAddress() string {
	if g.key == nil {
		return ""
	}
	return utils.NormalizeAddress(g.from.Hex())
}

func (g *EthChainGateway) backend(chainID int64) (ethBackend, config.NetworkConfig, error) {
	b, ok := g.backends[chainID]
	if !ok {
		return nil, config.NetworkConfig{}, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return b, g.networks[chainID], nil
}

// SubmitTransfer signs and broadcasts a native or ERC-20 transfer, returning the tx hash
func (g *EthChainGateway) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if g.key == nil {
		return "", fmt.Errorf("no wallet key configured")
	}
	backend, network, err := g.backend(req.ChainID)
	if err != nil {
		return "", err
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return "", fmt.Errorf("transfer amount must be positive")
	}
	to, err := utils.ParseEvmAddress(req.To)
	if err != nil {
		return "", err
	}

	txTo := to
	value := new(big.Int).Set(req.Amount)
	var data []byte
	if req.TokenContract != "" {
		token, err := utils.ParseEvmAddress(req.TokenContract)
		if err != nil {
			return "", fmt.Errorf("token contract: %w", err)
		}
		data, err = erc20ABI.Pack("transfer", to, req.Amount)
		if err != nil {
			return "", fmt.Errorf("encode token transfer: %w", err)
		}
		txTo = token
		value = big.NewInt(0)
	}

	nonce, err := backend.PendingNonceAt(ctx, g.from)
	if err != nil {
		metrics.ChainRPCErrors.WithLabelValues(chainLabel(req.ChainID), "nonce").Inc()
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := g.gasPrice(ctx, backend, network)
	if err != nil {
		return "", err
	}

	gasLimit := network.GasLimit
	if gasLimit == 0 {
		estimated, err := backend.EstimateGas(ctx, ethereum.CallMsg{From: g.from, To: &txTo, Value: value, Data: data})
		if err != nil {
			metrics.ChainRPCErrors.WithLabelValues(chainLabel(req.ChainID), "estimate_gas").Inc()
			return "", fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = estimated * 120 / 100
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &txTo,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(req.ChainID)), g.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		metrics.ChainRPCErrors.WithLabelValues(chainLabel(req.ChainID), "send").Inc()
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"chain_id":  req.ChainID,
		"tx_hash":   signed.Hash().Hex(),
		"to":        txTo.Hex(),
		"value":     value.String(),
		"token":     req.TokenContract,
		"nonce":     nonce,
		"gas_limit": gasLimit,
		"gas_price": gasPrice.String(),
	}).Info("🚀 Transfer submitted")

	return signed.Hash().Hex(), nil
}

// configured price, or suggested +20%
func (g *EthChainGateway) gasPrice(ctx context.Context, backend ethBackend, network config.NetworkConfig) (*big.Int, error) {
	if network.GasPrice != "" && network.GasPrice != "auto" {
		price, ok := new(big.Int).SetString(network.GasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("invalid gasPrice %q for chain %d", network.GasPrice, network.ChainID)
		}
		return price, nil
	}
	suggested, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		metrics.ChainRPCErrors.WithLabelValues(chainLabel(network.ChainID), "gas_price").Inc()
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	price := new(big.Int).Mul(suggested, big.NewInt(120))
	return price.Div(price, big.NewInt(100)), nil
}

// WaitForConfirmation polls for the receipt until it appears, the network's
// confirm timeout elapses, or ctx ends
func (g *EthChainGateway) WaitForConfirmation(ctx context.Context, chainID int64, txHash string) (ConfirmationStatus, error) {
	backend, network, err := g.backend(chainID)
	if err != nil {
		return "", err
	}
	if !utils.IsTxHash(txHash) {
		return "", fmt.Errorf("invalid transaction hash %q", txHash)
	}
	hash := common.HexToHash(txHash)

	waitCtx := ctx
	if timeout := network.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	interval := network.PollInterval()
	if g.pollInterval > 0 {
		interval = g.pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	polls := 0
	for {
		polls++
		receipt, err := backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			status := ConfirmationConfirmed
			if receipt.Status != types.ReceiptStatusSuccessful {
				status = ConfirmationReverted
			}
			metrics.ConfirmationWaitDuration.WithLabelValues(chainLabel(chainID), string(status)).Observe(time.Since(start).Seconds())
			fields := logrus.Fields{"chain_id": chainID, "tx_hash": txHash, "status": status, "polls": polls}
			if receipt.BlockNumber != nil {
				fields["block"] = receipt.BlockNumber.Uint64()
			}
			g.logger.WithFields(fields).Info("✅ Transaction mined")
			return status, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			metrics.ChainRPCErrors.WithLabelValues(chainLabel(chainID), "receipt").Inc()
			g.logger.WithFields(logrus.Fields{"tx_hash": txHash, "error": err}).Warn("⚠️ Error querying receipt")
		}

		select {
		case <-waitCtx.Done():
			return "", fmt.Errorf("waiting for %s after %v: %w", txHash, time.Since(start).Round(time.Second), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// CallContract performs a read-only call and returns the unpacked outputs
func (g *EthChainGateway) CallContract(ctx context.Context, chainID int64, contract, abiJSON, method string, args ...interface{}) ([]interface{}, error) {
	backend, _, err := g.backend(chainID)
	if err != nil {
		return nil, err
	}
	to, err := utils.ParseEvmAddress(contract)
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}
	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	output, err := backend.CallContract(ctx, ethereum.CallMsg{From: g.from, To: &to, Data: input}, nil)
	if err != nil {
		metrics.ChainRPCErrors.WithLabelValues(chainLabel(chainID), "call").Inc()
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	return parsed.Unpack(method, output)
}

// Close closes every RPC client
func (g *EthChainGateway) Close() {
	for _, b := range g.backends {
		b.Close()
	}
}

func chainLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}
