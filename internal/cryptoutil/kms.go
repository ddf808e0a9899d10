package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	_ "crypto/sha512" // registers crypto.SHA384
	"crypto/x509"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/compliance-web/internal/xerrors"
)

// KMSKeyFetcher is the one KMS call the verifier makes.
type KMSKeyFetcher interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSVerifier checks detached fragment signatures made with an asymmetric
// KMS key. Verification is local; KMS is only asked for the public key.
type KMSVerifier struct {
	client KMSKeyFetcher
	keyARN string

	// AllowPKCS1v15 also accepts RSA PKCS#1 v1.5 signatures. PSS only otherwise.
	AllowPKCS1v15 bool

	mu     sync.Mutex
	pubKey crypto.PublicKey
}

func NewKMSVerifier(client KMSKeyFetcher, keyARN string) *KMSVerifier {
	return &KMSVerifier{client: client, keyARN: keyARN}
}

func (v *KMSVerifier) KeyARN() string { return v.keyARN }

// PublicKey returns the signing key's public half, fetching it on first use.
// Failed fetches are not cached so the next fragment retries.
func (v *KMSVerifier) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pubKey != nil {
		return v.pubKey, nil
	}
	if v.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}

	out, err := v.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(v.keyARN)})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms get public key %s", v.keyARN)
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms key %s has KeyUsage=%s, expected SIGN_VERIFY", v.keyARN, out.KeyUsage)
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse kms public key DER")
	}
	v.pubKey = pub
	return pub, nil
}

// VerifySignature checks signature over message. The hash follows the key:
// SHA-384 for P-384, SHA-256 for P-256 and RSA.
func (v *KMSVerifier) VerifySignature(ctx context.Context, message, signature []byte) error {
	pub, err := v.PublicKey(ctx)
	if err != nil {
		return err
	}

	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		h, err := curveHash(key.Curve)
		if err != nil {
			return err
		}
		if !ecdsa.VerifyASN1(key, digest(h, message), signature) {
			return xerrors.Newf("ECDSA %s signature does not verify (curve %s)", h, key.Curve.Params().Name)
		}
		return nil

	case *rsa.PublicKey:
		d := digest(crypto.SHA256, message)
		pssErr := rsa.VerifyPSS(key, crypto.SHA256, d, signature, nil)
		if pssErr == nil {
			return nil
		}
		if !v.AllowPKCS1v15 {
			return xerrors.Wrap(pssErr, "RSA-PSS signature does not verify (PKCS1v15 not allowed)")
		}
		if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, d, signature); err != nil {
			return xerrors.Wrap(err, "RSA signature does not verify as PSS or PKCS1v15")
		}
		return nil

	default:
		return xerrors.Newf("unsupported public key type: %T", pub)
	}
}

func curveHash(c elliptic.Curve) (crypto.Hash, error) {
	switch c {
	case elliptic.P256():
		return crypto.SHA256, nil
	case elliptic.P384():
		return crypto.SHA384, nil
	}
	return 0, xerrors.Newf("unsupported ECDSA curve: %s", c.Params().Name)
}

func digest(h crypto.Hash, message []byte) []byte {
	hh := h.New()
	hh.Write(message)
	return hh.Sum(nil)
}
