package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"go.uber.org/zap"

	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/errors"
)

// emptyPayloadHash is the SHA-256 of an empty body.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// AWS signs every request with SigV4. Signing is recomputed per request
// with the current time.
type AWS struct {
	credentials aws.CredentialsProvider
	signer      *v4.Signer
	region      string
	service     string
	now         func() time.Time
	logger      *zap.Logger
}

func newAWS(ctx context.Context, cfg config.AWSConfig, o *options) (Authenticator, error) {
	logger := o.logger.With(zap.String("component", "aws_auth"))
	if cfg.CreateSignedCredentials != nil && !*cfg.CreateSignedCredentials {
		logger.Info("request signing disabled by create_signed_credentials")
		return None{}, nil
	}

	region := firstNonEmpty(cfg.Region, os.Getenv("AWS_REGION"))
	service := firstNonEmpty(cfg.Service, os.Getenv("AWS_SERVICE"))
	if service == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "aws auth requires aws_service")
	}

	var provider aws.CredentialsProvider
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		provider = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	} else {
		loadOpts := []func(*awsconfig.LoadOptions) error{}
		if cfg.Profile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
		}
		if region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "load aws credential chain")
		}
		provider = awsCfg.Credentials
		region = firstNonEmpty(region, awsCfg.Region)
	}
	if region == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "aws auth requires aws_region")
	}

	return &AWS{
		credentials: aws.NewCredentialsCache(provider),
		signer:      v4.NewSigner(),
		region:      region,
		service:     service,
		now:         o.now,
		logger:      logger,
	}, nil
}

func (a *AWS) Method() string { return config.AuthAWS }

// Apply hashes the body and signs req in place.
func (a *AWS) Apply(ctx context.Context, req *http.Request) error {
	creds, err := a.credentials.Retrieve(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "retrieve aws credentials")
	}

	hash, err := payloadHash(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "hash request payload")
	}
	req.Header.Set("X-Amz-Content-Sha256", hash)

	if err := a.signer.SignHTTP(ctx, creds, req, hash, a.service, a.region, a.now()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "sign request").
			WithDetail("service", a.service)
	}
	return nil
}

func payloadHash(req *http.Request) (string, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody == nil {
		return emptyPayloadHash, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return "", err
	}
	defer body.Close()

	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
