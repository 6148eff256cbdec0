// Package chain implements internal/api.ChainProvider against a real
// IdentityRegistry/SsssPermitter deployment. Spec.md §1 places the
// ledger-contract ABI bindings themselves out of scope ("we specify
// only the interface the core consumes"); this package is the thin
// hand-rolled RPC client that interface needs, grounded on
// original_source/ssss/src/eth.rs's IdentityRegistry/SsssPermitter
// wrappers (which themselves wrap `ethers::contract::abigen!`-generated
// bindings — codegen this package deliberately does not reproduce,
// calling the three methods core needs directly via ABI-packed
// eth_call data instead).
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/escrin/ssss-node/internal/retry"
)

var (
	// readPermit(address,bytes32) returns (uint256 expiry); a caller is
	// permitted iff expiry > now, mirroring eth.rs's IdentityRegistry::is_permitted.
	isPermittedSelector = crypto.Keccak256([]byte("readPermit(address,bytes32)"))[:4]
	// policyHashes(bytes32) returns (bytes32), mirroring eth.rs's
	// SsssPermitter::policy_hash.
	policyHashesSelector = crypto.Keccak256([]byte("policyHashes(bytes32)"))[:4]

	uint256Ty, _  = abi.NewType("uint256", "", nil)
	bytes32Ty, _  = abi.NewType("bytes32", "", nil)
	addressTy, _  = abi.NewType("address", "", nil)
	callArgs      = abi.Arguments{{Type: addressTy}, {Type: bytes32Ty}}
	policyArgs    = abi.Arguments{{Type: bytes32Ty}}
	expiryReturns = abi.Arguments{{Type: uint256Ty}}
	hashReturns   = abi.Arguments{{Type: bytes32Ty}}
)

// gateway is one JSON-RPC endpoint backing a chain, tracked with a
// simple healthy/unhealthy flag so a failing gateway is skipped by
// subsequent calls (see call for when it is tried again). A miniature version of the
// health-gating idea in the teacher's internal/adapter/circuit_breaker.go
// (there applied to market-data WebSocket feeds; here to RPC gateways).
type gateway struct {
	url     string
	client  *ethclient.Client
	mu      sync.Mutex
	healthy bool
}

// Chain is a ChainProvider backed by one or more RPC gateways for a
// single chain, read with first-success semantics across gateways
// (mirroring eth.rs's QuorumProvider, simplified from
// majority-of-responses to first-healthy-responds since this core only
// ever issues read calls, never state-changing transactions).
type Chain struct {
	chainID   uint64
	registry  common.Address
	permitter common.Address
	gateways  []*gateway
}

// New dials every gateway URL for chain chainID. Dialing failures for
// individual gateways are tolerated (such a gateway is kept in the list
// but is never dialed again, so no call is ever sent to it); New only
// fails if every gateway fails to dial.
func New(ctx context.Context, chainID uint64, gatewayURLs []string, registry, permitter common.Address) (*Chain, error) {
	if len(gatewayURLs) == 0 {
		return nil, fmt.Errorf("chain: no gateway URLs configured for chain %d", chainID)
	}
	c := &Chain{chainID: chainID, registry: registry, permitter: permitter}
	var dialErr error
	for _, u := range gatewayURLs {
		cl, err := ethclient.DialContext(ctx, u)
		if err != nil {
			dialErr = err
			c.gateways = append(c.gateways, &gateway{url: u, healthy: false})
			continue
		}
		c.gateways = append(c.gateways, &gateway{url: u, client: cl, healthy: true})
	}
	if len(c.gateways) > 0 {
		allDead := true
		for _, g := range c.gateways {
			if g.client != nil {
				allDead = false
				break
			}
		}
		if allDead {
			return nil, fmt.Errorf("chain: failed to dial any gateway for chain %d: %w", chainID, dialErr)
		}
	}
	return c, nil
}

// call runs fn against each gateway in order, skipping those marked
// unhealthy, until one succeeds. A gateway is marked unhealthy on
// failure and healthy again on success. An unhealthy gateway is only
// tried again when every gateway is unhealthy, and then only the first
// gateway is tried; any other gateway, once marked unhealthy, is not
// used again.
func (c *Chain) call(ctx context.Context, fn func(*ethclient.Client) (any, error)) (any, error) {
	var lastErr error
	tried := false
	for _, g := range c.gateways {
		g.mu.Lock()
		healthy := g.healthy && g.client != nil
		g.mu.Unlock()
		if !healthy {
			continue
		}
		tried = true
		v, err := fn(g.client)
		if err == nil {
			g.mu.Lock()
			g.healthy = true
			g.mu.Unlock()
			return v, nil
		}
		lastErr = err
		g.mu.Lock()
		g.healthy = false
		g.mu.Unlock()
	}
	if !tried {
		// Every gateway was marked unhealthy; give the first one another
		// chance rather than failing outright forever.
		g := c.gateways[0]
		if g.client == nil {
			return nil, fmt.Errorf("chain: no reachable gateway for chain %d", c.chainID)
		}
		v, err := fn(g.client)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.healthy = true
		g.mu.Unlock()
		return v, nil
	}
	return nil, fmt.Errorf("chain: all gateways failed for chain %d: %w", c.chainID, lastErr)
}

// HeadBlock returns the chain's current block number.
func (c *Chain) HeadBlock(ctx context.Context) (uint64, error) {
	v, err := c.call(ctx, func(cl *ethclient.Client) (any, error) {
		return cl.BlockNumber(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// PolicyHash reads SsssPermitter.policyHashes(identity) for the
// permitter address given (a request may name a different permitter
// than c.permitter if several are deployed against the same registry).
func (c *Chain) PolicyHash(ctx context.Context, permitter common.Address, identity [32]byte) (common.Hash, error) {
	data, err := policyArgs.Pack(identity)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack policyHashes args: %w", err)
	}
	calldata := append(append([]byte{}, policyHashesSelector...), data...)

	v, err := retry.Times(ctx, nil, 3, func(ctx context.Context) (common.Hash, error) {
		out, err := c.call(ctx, func(cl *ethclient.Client) (any, error) {
			return cl.CallContract(ctx, ethereum.CallMsg{To: &permitter, Data: calldata}, nil)
		})
		if err != nil {
			return common.Hash{}, err
		}
		raw, err := hashReturns.Unpack(out.([]byte))
		if err != nil {
			return common.Hash{}, fmt.Errorf("chain: unpack policyHashes result: %w", err)
		}
		return common.Hash(raw[0].([32]byte)), nil
	})
	return v, err
}

// IsPermitted reads IdentityRegistry.readPermit(requester, identity) and
// reports whether its returned expiry is in the future, mirroring
// eth.rs's IdentityRegistry::is_permitted.
func (c *Chain) IsPermitted(ctx context.Context, registry common.Address, identity [32]byte, requester common.Address) (bool, error) {
	data, err := callArgs.Pack(requester, identity)
	if err != nil {
		return false, fmt.Errorf("chain: pack readPermit args: %w", err)
	}
	calldata := append(append([]byte{}, isPermittedSelector...), data...)

	v, err := retry.Times(ctx, nil, 3, func(ctx context.Context) (*big.Int, error) {
		out, err := c.call(ctx, func(cl *ethclient.Client) (any, error) {
			return cl.CallContract(ctx, ethereum.CallMsg{To: &registry, Data: calldata}, nil)
		})
		if err != nil {
			return nil, err
		}
		raw, err := expiryReturns.Unpack(out.([]byte))
		if err != nil {
			return nil, fmt.Errorf("chain: unpack readPermit result: %w", err)
		}
		return raw[0].(*big.Int), nil
	})
	if err != nil {
		return false, err
	}
	return v.Cmp(big.NewInt(time.Now().Unix())) > 0, nil
}
