package store

import (
	"context"
	"encoding/asn1"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/escrin/ssss-node/internal/kms"
	"github.com/escrin/ssss-node/internal/types"
)

// Cloud is a DynamoDB+KMS backed Store and Signer, grounded on
// original_source/ssss/src/store/aws.rs: versioned conditional-put table
// storage (here realized with DynamoDB's TransactWriteItems conditional
// expressions standing in for the original's DynamoDB transaction) plus
// KMS-wrapped share/key bytes at rest and an asymmetric KMS signing key
// for the node's signer identity (SPEC_FULL §2's cloud backend entry).
//
// Table layout (one logical table, partitioned by item kind via a "kind"
// prefix baked into pk, the common single-table DynamoDB pattern):
//   pk = "<kind>#<seriesKey>", sk = "meta"        -> {max_version}
//   pk = "<kind>#<seriesKey>", sk = "v#<version>" -> {payload, expiry?}
//   pk = "verifier#<permitter>/<identity>", sk = "v" -> {config}
//   pk = "chainstate#<chain>", sk = "v"              -> {block}
//   pk = "nonce#<identity>", sk = "<nonce-hex>"      -> {} (existence only)
type Cloud struct {
	ddb      *dynamodb.Client
	kms      *kms.Client
	table    string
	kmsKeyID string
	address  common.Address
}

// NewCloud constructs a Cloud backend. table is the DynamoDB table name
// (SPEC_FULL's "dynamodb_table_prefix" config value, used verbatim as a
// single table name here rather than one table per kind: DynamoDB's
// single-table-design idiom, suited to this backend's handful of access
// patterns). kmsKeyID must name an asymmetric ECC_SECG_P256K1 signing
// key; its public key is fetched once here to memoize the signer
// address.
func NewCloud(ctx context.Context, region, localStackEndpoint, table, kmsKeyID string) (*Cloud, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))
	if localStackEndpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", "test")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: load aws config: %w", err)
	}

	var ddbOpts []func(*dynamodb.Options)
	if localStackEndpoint != "" {
		ddbOpts = append(ddbOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(localStackEndpoint)
		})
	}
	ddb := dynamodb.NewFromConfig(cfg, ddbOpts...)

	kmsClient, err := kms.New(ctx, region, localStackEndpoint)
	if err != nil {
		return nil, fmt.Errorf("store: construct kms client: %w", err)
	}

	c := &Cloud{ddb: ddb, kms: kmsClient, table: table, kmsKeyID: kmsKeyID}
	pub, err := kmsClient.PublicKey(ctx, kmsKeyID)
	if err != nil {
		return nil, fmt.Errorf("store: fetch kms public key: %w", err)
	}
	addr, err := addressFromDERPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("store: derive signer address: %w", err)
	}
	c.address = addr
	return c, nil
}

// addressFromDERPublicKey recovers the Ethereum address for a
// DER-encoded SubjectPublicKeyInfo secp256k1 public key, as returned by
// kms:GetPublicKey for an ECC_SECG_P256K1 key. KMS wraps the raw
// uncompressed point in a small ASN.1 envelope; the point itself is
// always the trailing 65 bytes (0x04 || X || Y).
func addressFromDERPublicKey(der []byte) (common.Address, error) {
	if len(der) < 65 {
		return common.Address{}, fmt.Errorf("store: public key DER too short")
	}
	point := der[len(der)-65:]
	if point[0] != 0x04 {
		return common.Address{}, fmt.Errorf("store: expected uncompressed point prefix")
	}
	pub, err := crypto.UnmarshalPubkey(point)
	if err != nil {
		return common.Address{}, fmt.Errorf("store: unmarshal public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func (c *Cloud) keyFor(kind, series string) string { return kind + "#" + series }

func versionSK(v uint64) string { return fmt.Sprintf("v#%020d", v) }

type cloudShareMeta struct {
	MaxVersion types.ShareVersion `json:"max_version"`
}

type cloudSharePayload struct {
	WrappedShare   []byte               `json:"wrapped_share"`
	WrappedBlinder []byte               `json:"wrapped_blinder"`
	Meta           types.SecretShareMeta `json:"meta"`
	Expiry         *time.Time           `json:"expiry,omitempty"`
}

// PutShare wraps share.Share and share.Blinder under the configured KMS
// key and writes the new version and its meta pointer in a single
// transaction, conditioned on the meta's current max_version being
// exactly id.Version-1 (or absent, for id.Version==1). This is the
// conditional-put compound operation spec.md §4.A requires be atomic.
func (c *Cloud) PutShare(ctx context.Context, id types.ShareID, share types.SecretShare) (bool, error) {
	wrappedShare, err := c.kms.Encrypt(ctx, c.kmsKeyID, share.Share)
	if err != nil {
		return false, fmt.Errorf("store: wrap share: %w", err)
	}
	wrappedBlinder, err := c.kms.Encrypt(ctx, c.kmsKeyID, share.Blinder)
	if err != nil {
		return false, fmt.Errorf("store: wrap blinder: %w", err)
	}
	expiry := time.Now().Add(PreCommitExpiry)
	payload := cloudSharePayload{
		WrappedShare:   wrappedShare,
		WrappedBlinder: wrappedBlinder,
		Meta:           share.Meta,
		Expiry:         &expiry,
	}
	payloadItem, err := attributeValueMap(payload)
	if err != nil {
		return false, err
	}

	pk := c.keyFor("share", shareSeriesKey(id.Identity, id.SecretName))
	metaItem, err := attributeValueMap(cloudShareMeta{MaxVersion: id.Version})
	if err != nil {
		return false, err
	}
	metaItem["pk"] = &ddbtypes.AttributeValueMemberS{Value: pk}
	metaItem["sk"] = &ddbtypes.AttributeValueMemberS{Value: "meta"}
	metaItem["max_version"] = &ddbtypes.AttributeValueMemberN{Value: strconv.FormatUint(id.Version, 10)}
	payloadItem["pk"] = &ddbtypes.AttributeValueMemberS{Value: pk}
	payloadItem["sk"] = &ddbtypes.AttributeValueMemberS{Value: versionSK(id.Version)}

	var metaCond string
	var exprValues map[string]ddbtypes.AttributeValue
	if id.Version == 1 {
		metaCond = "attribute_not_exists(pk)"
	} else {
		metaCond = "max_version = :expected"
		exprValues = map[string]ddbtypes.AttributeValue{
			":expected": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatUint(id.Version-1, 10)},
		}
	}

	_, err = c.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{Put: &ddbtypes.Put{
				TableName:                 aws.String(c.table),
				Item:                      metaItem,
				ConditionExpression:       aws.String(metaCond),
				ExpressionAttributeValues: exprValues,
			}},
			{Put: &ddbtypes.Put{
				TableName:           aws.String(c.table),
				Item:                payloadItem,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
		},
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: put share transaction: %w", err)
	}
	return true, nil
}

func (c *Cloud) CommitShare(ctx context.Context, id types.ShareID) (bool, error) {
	pk := c.keyFor("share", shareSeriesKey(id.Identity, id.SecretName))
	item, err := c.getItem(ctx, pk, versionSK(id.Version))
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	var payload cloudSharePayload
	if err := decodeAttributeValueMap(item, &payload); err != nil {
		return false, err
	}

	var committed bool
	if payload.Expiry != nil {
		committed = payload.Expiry.After(time.Now())
		payload.Expiry = nil
	} else {
		committed = true
	}
	if !committed {
		return false, nil
	}

	newItem, err := attributeValueMap(payload)
	if err != nil {
		return false, err
	}
	newItem["pk"] = &ddbtypes.AttributeValueMemberS{Value: pk}
	newItem["sk"] = &ddbtypes.AttributeValueMemberS{Value: versionSK(id.Version)}
	if _, err := c.ddb.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(c.table), Item: newItem}); err != nil {
		return false, fmt.Errorf("store: clear pre-commit expiry: %w", err)
	}

	if id.Version > 1 {
		if err := c.DeleteShare(ctx, types.ShareID{Identity: id.Identity, SecretName: id.SecretName, Version: id.Version - 1}); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (c *Cloud) GetShare(ctx context.Context, id types.ShareID) (*types.SecretShare, error) {
	pk := c.keyFor("share", shareSeriesKey(id.Identity, id.SecretName))
	item, err := c.getItem(ctx, pk, versionSK(id.Version))
	if err != nil || item == nil {
		return nil, err
	}
	var payload cloudSharePayload
	if err := decodeAttributeValueMap(item, &payload); err != nil {
		return nil, err
	}
	if payload.Expiry != nil && !payload.Expiry.After(time.Now()) {
		_ = c.DeleteShare(ctx, id)
		return nil, nil
	}
	share, err := c.kms.Decrypt(ctx, payload.WrappedShare)
	if err != nil {
		return nil, fmt.Errorf("store: unwrap share: %w", err)
	}
	blinder, err := c.kms.Decrypt(ctx, payload.WrappedBlinder)
	if err != nil {
		return nil, fmt.Errorf("store: unwrap blinder: %w", err)
	}
	return &types.SecretShare{Meta: payload.Meta, Share: share, Blinder: blinder}, nil
}

func (c *Cloud) GetCurrentShareVersion(ctx context.Context, identity types.IdentityLocator, name string) (types.ShareVersion, bool, bool, error) {
	pk := c.keyFor("share", shareSeriesKey(identity, name))
	item, err := c.getItem(ctx, pk, "meta")
	if err != nil || item == nil {
		return 0, false, false, err
	}
	var meta cloudShareMeta
	if err := decodeAttributeValueMap(item, &meta); err != nil {
		return 0, false, false, err
	}
	if meta.MaxVersion == 0 {
		return 0, false, false, nil
	}
	entry, err := c.getItem(ctx, pk, versionSK(meta.MaxVersion))
	if err != nil || entry == nil {
		return 0, false, false, err
	}
	var payload cloudSharePayload
	if err := decodeAttributeValueMap(entry, &payload); err != nil {
		return 0, false, false, err
	}
	return meta.MaxVersion, payload.Expiry != nil, true, nil
}

func (c *Cloud) DeleteShare(ctx context.Context, id types.ShareID) error {
	pk := c.keyFor("share", shareSeriesKey(id.Identity, id.SecretName))
	_, err := c.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key: map[string]ddbtypes.AttributeValue{
			"pk": &ddbtypes.AttributeValueMemberS{Value: pk},
			"sk": &ddbtypes.AttributeValueMemberS{Value: versionSK(id.Version)},
		},
	})
	if err != nil {
		return fmt.Errorf("store: delete share: %w", err)
	}
	return nil
}

type cloudKeyPayload struct {
	WrappedKey []byte `json:"wrapped_key"`
}

func (c *Cloud) PutSecret(ctx context.Context, id types.KeyID, key types.WrappedKey) (bool, error) {
	wrapped, err := c.kms.Encrypt(ctx, c.kmsKeyID, key)
	if err != nil {
		return false, fmt.Errorf("store: wrap key: %w", err)
	}
	pk := c.keyFor("key", keySeriesKey(id.Identity, id.Name))
	metaItem, err := attributeValueMap(cloudShareMeta{MaxVersion: id.Version})
	if err != nil {
		return false, err
	}
	metaItem["pk"] = &ddbtypes.AttributeValueMemberS{Value: pk}
	metaItem["sk"] = &ddbtypes.AttributeValueMemberS{Value: "meta"}
	metaItem["max_version"] = &ddbtypes.AttributeValueMemberN{Value: strconv.FormatUint(id.Version, 10)}

	payloadItem, err := attributeValueMap(cloudKeyPayload{WrappedKey: wrapped})
	if err != nil {
		return false, err
	}
	payloadItem["pk"] = &ddbtypes.AttributeValueMemberS{Value: pk}
	payloadItem["sk"] = &ddbtypes.AttributeValueMemberS{Value: versionSK(id.Version)}

	var metaCond string
	var exprValues map[string]ddbtypes.AttributeValue
	if id.Version == 1 {
		metaCond = "attribute_not_exists(pk)"
	} else {
		metaCond = "max_version = :expected"
		exprValues = map[string]ddbtypes.AttributeValue{
			":expected": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatUint(id.Version-1, 10)},
		}
	}

	_, err = c.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{Put: &ddbtypes.Put{TableName: aws.String(c.table), Item: metaItem, ConditionExpression: aws.String(metaCond), ExpressionAttributeValues: exprValues}},
			{Put: &ddbtypes.Put{TableName: aws.String(c.table), Item: payloadItem, ConditionExpression: aws.String("attribute_not_exists(pk)")}},
		},
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: put secret transaction: %w", err)
	}
	return true, nil
}

func (c *Cloud) GetSecret(ctx context.Context, id types.KeyID) (types.WrappedKey, bool, error) {
	pk := c.keyFor("key", keySeriesKey(id.Identity, id.Name))
	item, err := c.getItem(ctx, pk, versionSK(id.Version))
	if err != nil || item == nil {
		return nil, false, err
	}
	var payload cloudKeyPayload
	if err := decodeAttributeValueMap(item, &payload); err != nil {
		return nil, false, err
	}
	plaintext, err := c.kms.Decrypt(ctx, payload.WrappedKey)
	if err != nil {
		return nil, false, fmt.Errorf("store: unwrap key: %w", err)
	}
	return types.WrappedKey(plaintext), true, nil
}

func (c *Cloud) DeleteSecret(ctx context.Context, id types.KeyID) error {
	pk := c.keyFor("key", keySeriesKey(id.Identity, id.Name))
	_, err := c.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key: map[string]ddbtypes.AttributeValue{
			"pk": &ddbtypes.AttributeValueMemberS{Value: pk},
			"sk": &ddbtypes.AttributeValueMemberS{Value: versionSK(id.Version)},
		},
	})
	if err != nil {
		return fmt.Errorf("store: delete secret: %w", err)
	}
	return nil
}

func (c *Cloud) PutVerifier(ctx context.Context, permitter types.PermitterLocator, identity types.IdentityLocator, config []byte) error {
	pk := "verifier#" + verifierKey(permitter, identity)
	_, err := c.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item: map[string]ddbtypes.AttributeValue{
			"pk":     &ddbtypes.AttributeValueMemberS{Value: pk},
			"sk":     &ddbtypes.AttributeValueMemberS{Value: "v"},
			"config": &ddbtypes.AttributeValueMemberB{Value: config},
		},
	})
	if err != nil {
		return fmt.Errorf("store: put verifier: %w", err)
	}
	return nil
}

func (c *Cloud) GetVerifier(ctx context.Context, permitter types.PermitterLocator, identity types.IdentityLocator) ([]byte, bool, error) {
	pk := "verifier#" + verifierKey(permitter, identity)
	item, err := c.getItem(ctx, pk, "v")
	if err != nil || item == nil {
		return nil, false, err
	}
	b, ok := item["config"].(*ddbtypes.AttributeValueMemberB)
	if !ok {
		return nil, false, fmt.Errorf("store: malformed verifier item")
	}
	return b.Value, true, nil
}

func (c *Cloud) GetChainState(ctx context.Context, chain types.ChainID) (types.ChainState, bool, error) {
	pk := fmt.Sprintf("chainstate#%d", chain)
	item, err := c.getItem(ctx, pk, "v")
	if err != nil || item == nil {
		return types.ChainState{}, false, err
	}
	n, ok := item["block"].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return types.ChainState{}, false, fmt.Errorf("store: malformed chain state item")
	}
	block, err := strconv.ParseUint(n.Value, 10, 64)
	if err != nil {
		return types.ChainState{}, false, fmt.Errorf("store: parse chain state: %w", err)
	}
	return types.ChainState{Block: block}, true, nil
}

func (c *Cloud) UpdateChainState(ctx context.Context, chain types.ChainID, block uint64) error {
	pk := fmt.Sprintf("chainstate#%d", chain)
	_, err := c.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.table),
		Key: map[string]ddbtypes.AttributeValue{
			"pk": &ddbtypes.AttributeValueMemberS{Value: pk},
			"sk": &ddbtypes.AttributeValueMemberS{Value: "v"},
		},
		UpdateExpression: aws.String("SET block = :block"),
		ConditionExpression: aws.String(
			"attribute_not_exists(block) OR block < :block",
		),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":block": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatUint(block, 10)},
		},
	})
	if err != nil && !isConditionalCheckFailure(err) {
		return fmt.Errorf("store: update chain state: %w", err)
	}
	return nil
}

func (c *Cloud) CheckAndSetNonce(ctx context.Context, identity types.IdentityLocator, nonce [32]byte) (bool, error) {
	pk := "nonce#" + identity.ToKey()
	_, err := c.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item: map[string]ddbtypes.AttributeValue{
			"pk": &ddbtypes.AttributeValueMemberS{Value: pk},
			"sk": &ddbtypes.AttributeValueMemberS{Value: common.Bytes2Hex(nonce[:])},
		},
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: check and set nonce: %w", err)
	}
	return true, nil
}

// Sign signs digest via the KMS asymmetric key, trying both secp256k1
// recovery ids and returning whichever recovers to c.address — KMS's
// Sign API returns a DER (r,s) pair with no recovery id, same gap the
// Rust original's signature_to_rsv works around.
func (c *Cloud) Sign(ctx context.Context, digest common.Hash) ([]byte, error) {
	der, err := c.kms.Sign(ctx, c.kmsKeyID, digest.Bytes())
	if err != nil {
		return nil, fmt.Errorf("store: kms sign: %w", err)
	}
	r, s, err := parseDEREcdsaSignature(der)
	if err != nil {
		return nil, fmt.Errorf("store: parse kms signature: %w", err)
	}
	s = normalizeS(s)

	rBytes := common.LeftPadBytes(r.Bytes(), 32)
	sBytes := common.LeftPadBytes(s.Bytes(), 32)
	for _, v := range []byte{0, 1} {
		sig := append(append(append([]byte{}, rBytes...), sBytes...), v)
		pub, err := crypto.SigToPub(digest.Bytes(), sig)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*pub) == c.address {
			sig[64] += 27
			return sig, nil
		}
	}
	return nil, fmt.Errorf("store: kms signature did not recover to signer address")
}

func (c *Cloud) SignerAddress(_ context.Context) (common.Address, error) {
	return c.address, nil
}

// getItem is a small helper over dynamodb.GetItem, returning a nil map
// (not an error) for a missing item.
func (c *Cloud) getItem(ctx context.Context, pk, sk string) (map[string]ddbtypes.AttributeValue, error) {
	out, err := c.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.table),
		Key: map[string]ddbtypes.AttributeValue{
			"pk": &ddbtypes.AttributeValueMemberS{Value: pk},
			"sk": &ddbtypes.AttributeValueMemberS{Value: sk},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("store: get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func isConditionalCheckFailure(err error) bool {
	var ccf *ddbtypes.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *ddbtypes.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

// attributeValueMap JSON-round-trips v into a DynamoDB item map via its
// binary ("B") attribute form, so nested Go structs (cloudSharePayload
// etc.) don't need a hand-written attributevalue marshaler per type.
// Used only for the non-key fields of an item; pk/sk are always set by
// the caller afterward.
func attributeValueMap(v any) (map[string]ddbtypes.AttributeValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: marshal item: %w", err)
	}
	return map[string]ddbtypes.AttributeValue{
		"data": &ddbtypes.AttributeValueMemberB{Value: raw},
	}, nil
}

func decodeAttributeValueMap(item map[string]ddbtypes.AttributeValue, v any) error {
	b, ok := item["data"].(*ddbtypes.AttributeValueMemberB)
	if !ok {
		return fmt.Errorf("store: item missing data attribute")
	}
	if err := json.Unmarshal(b.Value, v); err != nil {
		return fmt.Errorf("store: unmarshal item: %w", err)
	}
	return nil
}

func parseDEREcdsaSignature(der []byte) (r, s *big.Int, err error) {
	var sig struct {
		R *big.Int
		S *big.Int
	}
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, nil, err
	}
	return sig.R, sig.S, nil
}

// secp256k1 group order, for low-S normalization.
var secp256k1N, _ = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)

func normalizeS(s *big.Int) *big.Int {
	half := new(big.Int).Rsh(secp256k1N, 1)
	if s.Cmp(half) > 0 {
		return new(big.Int).Sub(secp256k1N, s)
	}
	return s
}
