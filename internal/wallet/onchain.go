package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradectl/internal/domain"
)

const (
	erc20ABIJSON = `[{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	nativeDecimals = 18
)

var (
	erc20ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// TokenContract describes one ERC-20 holding to probe.
type TokenContract struct {
	Key      string `mapstructure:"key"`
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

// OnchainOptions parameterise the on-chain source.
type OnchainOptions struct {
	RPCURL  string
	Network string
	Holder  string
	Tokens  []TokenContract
	Timeout time.Duration
}

// Onchain reads native and token balances of a self-custodied address over
// Ethereum JSON-RPC and reports them as raw balance records.
type Onchain struct {
	opts      OnchainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOnchain builds an on-chain balance source.
func NewOnchain(opts OnchainOptions, logger zerolog.Logger) *Onchain {
	if opts.Network == "" {
		opts.Network = "ethereum"
	}
	return &Onchain{opts: opts, logger: logger.With().Str("component", "wallet_onchain").Logger()}
}

// Name implements Source.
func (o *Onchain) Name() string { return "onchain:" + o.opts.Network }

// FetchRaw returns the native balance under the network key and each token
// under its configured key.
func (o *Onchain) FetchRaw(ctx context.Context) (RawSet, error) {
	if o.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}
	if !common.IsHexAddress(o.opts.Holder) {
		return nil, fmt.Errorf("holder address %q is not a valid hex address", o.opts.Holder)
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return nil, err
	}

	holder := common.HexToAddress(o.opts.Holder)
	raw := make(RawSet)

	wei, err := client.BalanceAt(ctx, holder, nil)
	if err != nil {
		return nil, fmt.Errorf("native balance: %w", err)
	}
	raw.Add(o.opts.Network, domain.RawBalance{
		Balance: decimal.NewFromBigInt(wei, -nativeDecimals),
		Network: o.opts.Network,
	})

	for _, token := range o.opts.Tokens {
		amount, err := o.tokenBalance(ctx, client, holder, token)
		if err != nil {
			o.logger.Warn().Err(err).Str("token", token.Key).Msg("skip token balance")
			continue
		}
		raw.Add(token.Key, domain.RawBalance{Balance: amount, Network: o.opts.Network, Token: token.Key})
	}

	return raw, nil
}

func (o *Onchain) tokenBalance(ctx context.Context, client *ethclient.Client, holder common.Address, token TokenContract) (decimal.Decimal, error) {
	if !common.IsHexAddress(token.Address) {
		return decimal.Decimal{}, fmt.Errorf("token %s address %q invalid", token.Key, token.Address)
	}
	contract := common.HexToAddress(token.Address)

	payload, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return decimal.Decimal{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}

	return decodeBalanceOf(res, token.Decimals)
}

func decodeBalanceOf(res []byte, decimals int32) (decimal.Decimal, error) {
	outputs, err := erc20ABI.Unpack("balanceOf", res)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(outputs) != 1 {
		return decimal.Decimal{}, errors.New("unexpected balanceOf response")
	}
	units, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode balanceOf output")
	}
	return decimal.NewFromBigInt(units, -decimals), nil
}

func (o *Onchain) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ Source = (*Onchain)(nil)
