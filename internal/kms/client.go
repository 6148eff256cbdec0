package kms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Client wraps the AWS KMS SDK to perform decryption operations.
type Client struct {
	kms *kms.Client
}

// New creates a KMS Client. If localStackEndpoint is non-empty, the client
// targets that endpoint with dummy credentials (for local development).
// Otherwise it uses the AWS default credential chain (IAM Roles in production).
func New(ctx context.Context, region, localStackEndpoint string) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))

	if localStackEndpoint != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("kms: load aws config: %w", err)
	}

	var kmsOpts []func(*kms.Options)
	if localStackEndpoint != "" {
		kmsOpts = append(kmsOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(localStackEndpoint)
		})
	}

	return &Client{
		kms: kms.NewFromConfig(cfg, kmsOpts...),
	}, nil
}

// Decrypt sends the ciphertext blob to KMS and returns the decrypted plaintext bytes.
// The caller is responsible for securing the returned bytes (e.g. mlock).
func (c *Client) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := c.kms.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms: decrypt: %w", err)
	}
	return out.Plaintext, nil
}

// Encrypt wraps plaintext under keyID, returning the opaque ciphertext
// blob the cloud store backend persists as a types.WrappedKey/share
// field. Added alongside the teacher's Decrypt-only client because the
// cloud backend needs both directions (the teacher's signer only ever
// decrypted a session key it never re-wrapped).
func (c *Client) Encrypt(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	out, err := c.kms.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     &keyID,
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms: encrypt: %w", err)
	}
	return out.CiphertextBlob, nil
}

// Sign produces an ECDSA-secp256k1 signature over digest using an
// asymmetric KMS signing key, for the cloud backend's Signer
// implementation (4.A's "signer... managed by a cloud KMS" option).
// KMS returns a DER-encoded (r, s) signature with no recovery id; the
// caller must determine v by trying both candidates against the known
// signer address, same as the Rust original's signature_to_rsv.
func (c *Client) Sign(ctx context.Context, keyID string, digest []byte) ([]byte, error) {
	out, err := c.kms.Sign(ctx, &kms.SignInput{
		KeyId:            &keyID,
		Message:          digest,
		MessageType:      "DIGEST",
		SigningAlgorithm: "ECDSA_SHA_256",
	})
	if err != nil {
		return nil, fmt.Errorf("kms: sign: %w", err)
	}
	return out.Signature, nil
}

// PublicKey fetches the DER-encoded SubjectPublicKeyInfo for keyID, used
// once at startup to derive the cloud backend's memoized signer address.
func (c *Client) PublicKey(ctx context.Context, keyID string) ([]byte, error) {
	out, err := c.kms.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: &keyID})
	if err != nil {
		return nil, fmt.Errorf("kms: get public key: %w", err)
	}
	return out.PublicKey, nil
}
