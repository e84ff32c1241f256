// Package aws loads AWS SDK configuration for the KMS connector.
package aws

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/pkg/errors"
)

const serviceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// LoadConfig loads the default credential chain. A shared config profile is
// used only outside Kubernetes, where pods authenticate through their service
// account.
func LoadConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	var options []func(*config.LoadOptions) error

	if !isInKubernetes() {
		if p := Profile(profile); p != "" {
			options = append(options, config.WithSharedConfigProfile(p))
		}
	}
	if region != "" {
		options = append(options, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return aws.Config{}, errors.Wrap(err, "failed to load AWS config")
	}
	return cfg, nil
}

// Profile returns the configured profile, falling back to AWS_PROFILE.
func Profile(configured string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv("AWS_PROFILE")
}

// CallerIdentity returns the identity the credentials in cfg resolve to.
func CallerIdentity(ctx context.Context, cfg aws.Config) (*sts.GetCallerIdentityOutput, error) {
	out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get caller identity")
	}
	return out, nil
}

func isInKubernetes() bool {
	_, err := os.Stat(serviceAccountTokenPath)
	return err == nil
}
