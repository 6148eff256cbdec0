// Command ssss-dealer is a CLI around internal/client.Dealer: it deals a
// freshly-split secret across a fixed set of nodes, or reconstructs one
// already dealt. Grounded on the teacher's cmd/signer/main.go for the
// overall shape (load a private key into a signer, defer memguard.Purge)
// but repurposed from running a long-lived signing daemon to a
// one-shot operator CLI, since spec.md explicitly leaves "CLI argument
// parsing libraries" out of scope and the teacher itself uses nothing
// beyond flag/cobra-free plain argument handling for its own one-shot
// tooling.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/escrin/ssss-node/internal/client"
	"github.com/escrin/ssss-node/internal/types"
)

// keySigner is a file/env-loaded private key implementing
// client.SignerProofGenerator, the simplest of the three signer
// sources spec.md §4.G names (hardware wallet, local key file, remote
// signer) — the other two are reachable from the same interface but
// not implemented here, same scope line spec.md itself draws around
// the dealer's own key custody.
type keySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newKeySigner(hexKey string) (*keySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("ssss-dealer: parse private key: %w", err)
	}
	return &keySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *keySigner) Address() common.Address { return s.addr }

func (s *keySigner) SignRequest(_ context.Context, digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func main() {
	defer memguard.Purge()

	nodesFlag := flag.String("nodes", "", "comma-separated node base URLs")
	keyFlag := flag.String("key", os.Getenv("SSSS_DEALER_KEY"), "hex-encoded dealer signing key (or SSSS_DEALER_KEY)")
	chainFlag := flag.Uint64("chain", 0, "chain ID")
	registryFlag := flag.String("registry", "", "IdentityRegistry contract address")
	identityFlag := flag.String("identity", "", "32-byte hex identity ID")
	nameFlag := flag.String("name", "", "secret name")
	versionFlag := flag.Uint64("version", 1, "share version")
	thresholdFlag := flag.Int("threshold", 0, "VSS reconstruction threshold")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ssss-dealer [flags] deal|reconstruct")
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	nodes, err := parseNodes(*nodesFlag)
	if err != nil {
		fatal(err)
	}
	signer, err := newKeySigner(*keyFlag)
	if err != nil {
		fatal(err)
	}
	identity, err := parseIdentity(*chainFlag, *registryFlag, *identityFlag)
	if err != nil {
		fatal(err)
	}

	dealer := client.New(nodes, signer)
	ctx := context.Background()

	switch cmd {
	case "deal":
		secret, results, err := dealer.Deal(ctx, identity, *versionFlag, nil, *thresholdFlag)
		if err != nil {
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(os.Stderr, "  %s: %v\n", r.Node.BaseURL, r.Err)
				}
			}
			fatal(err)
		}
		fmt.Printf("dealt secret %s for %s (version %d) across %d nodes\n",
			hex.EncodeToString(secret[:]), *nameFlag, *versionFlag, len(nodes))
	case "reconstruct":
		secret, err := dealer.Reconstruct(ctx, identity, *versionFlag, *thresholdFlag)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("reconstructed secret: %s\n", hex.EncodeToString(secret[:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
}

func parseNodes(raw string) ([]client.Node, error) {
	if raw == "" {
		return nil, fmt.Errorf("ssss-dealer: -nodes is required")
	}
	var nodes []client.Node
	for _, u := range strings.Split(raw, ",") {
		nodes = append(nodes, client.Node{BaseURL: strings.TrimSpace(u)})
	}
	return nodes, nil
}

func parseIdentity(chainID uint64, registryHex, idHex string) (types.IdentityLocator, error) {
	if !common.IsHexAddress(registryHex) {
		return types.IdentityLocator{}, fmt.Errorf("ssss-dealer: invalid -registry address %q", registryHex)
	}
	idBytes, err := hex.DecodeString(strings.TrimPrefix(idHex, "0x"))
	if err != nil || len(idBytes) != 32 {
		return types.IdentityLocator{}, fmt.Errorf("ssss-dealer: -identity must be 32 bytes hex, got %q", idHex)
	}
	var id types.IdentityID
	copy(id[:], idBytes)
	return types.IdentityLocator{
		Chain:    types.ChainID(chainID),
		Registry: common.HexToAddress(registryHex),
		ID:       id,
	}, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "ssss-dealer:", err)
	os.Exit(1)
}
