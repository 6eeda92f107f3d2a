package service

import (
	"context"
	"fmt"

	"creditledger/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// Secret names looked up when Stripe keys are not set in the environment.
const (
	StripeSecretKeyName     = "stripe-secret-key"
	StripeWebhookSecretName = "stripe-webhook-secret"
)

// SecretGetter reads the latest version of a named secret.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

type SecretManagerService struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretManagerService(ctx context.Context, projectID, credentialsFile string) (*SecretManagerService, error) {
	if projectID == "" {
		return nil, fmt.Errorf("secret manager project id is not set")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}

	return &SecretManagerService{
		client:    client,
		projectID: projectID,
	}, nil
}

func (s *SecretManagerService) GetSecret(ctx context.Context, name string) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, name)

	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}

	return string(result.Payload.Data), nil
}

func (s *SecretManagerService) Close() error {
	return s.client.Close()
}

// ResolveStripeSecrets fills Stripe keys that are empty in cfg from getter.
// Keys already present in the environment win.
func ResolveStripeSecrets(ctx context.Context, cfg *config.Config, getter SecretGetter) error {
	if cfg.StripeSecretKey == "" {
		v, err := getter.GetSecret(ctx, StripeSecretKeyName)
		if err != nil {
			return err
		}
		cfg.StripeSecretKey = v
	}
	if cfg.StripeWebhookSecret == "" {
		v, err := getter.GetSecret(ctx, StripeWebhookSecretName)
		if err != nil {
			return err
		}
		cfg.StripeWebhookSecret = v
	}
	return nil
}
