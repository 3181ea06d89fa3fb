package provider

import (
	"context"
	"errors"
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

	"coinpipe/internal/pipeline"
)

const aggregatorABIJSON = `[
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[
    {"internalType":"uint8","name":"","type":"uint8"}],
   "stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain price provider.
type ChainlinkOptions struct {
	RPCURL string
	// Feeds maps symbol to the aggregator contract address for its
	// USD price feed.
	Feeds   map[string]string
	Timeout time.Duration
}

// Chainlink reads USD price feeds from on-chain aggregator contracts. It
// serves as a trusted fallback source independent of any web API.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChainlink builds the on-chain provider. The RPC connection is dialed
// lazily on first use.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:   opts,
		logger: logger.With().Str("component", "chainlink").Logger(),
	}
}

// Name identifies this provider in fallback ordering and source tags.
func (c *Chainlink) Name() string { return "chainlink" }

// Scrape reads every configured feed and returns per-symbol records. A
// single unreadable feed is logged and skipped rather than failing the
// whole scrape.
func (c *Chainlink) Scrape(ctx context.Context) (map[string]pipeline.PriceRecord, error) {
	if c.opts.RPCURL == "" {
		return nil, errors.New("chainlink rpc url not configured")
	}
	if len(c.opts.Feeds) == 0 {
		return nil, errors.New("no chainlink feeds configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	records := make(map[string]pipeline.PriceRecord, len(c.opts.Feeds))
	for symbol, address := range c.opts.Feeds {
		price, err := c.readFeed(ctx, client, address)
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Str("feed", address).Msg("feed read failed")
			continue
		}
		records[pipeline.CanonicalSymbol(symbol)] = pipeline.PriceRecord{
			"price": price.InexactFloat64(),
		}
	}
	return records, nil
}

func (c *Chainlink) readFeed(ctx context.Context, client *ethclient.Client, address string) (decimal.Decimal, error) {
	addr := common.HexToAddress(address)

	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return decimal.Decimal{}, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(outputs) != 1 {
		return decimal.Decimal{}, errors.New("unexpected decimals response")
	}
	feedDecimals, ok := outputs[0].(uint8)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode decimals output")
	}

	payload, err = aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return decimal.Decimal{}, err
	}
	res, err = client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	outputs, err = aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(outputs) != 5 {
		return decimal.Decimal{}, errors.New("unexpected latestRoundData response")
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode latestRoundData answer")
	}

	return decimal.NewFromBigInt(answer, -int32(feedDecimals)), nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ pipeline.GenericScraper = (*Chainlink)(nil)
