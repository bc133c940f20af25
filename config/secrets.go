package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretGetter is the subset of the Secrets Manager client we need.
type SecretGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveDatabasePassword fills DBPassword from Secrets Manager when a
// secret id is configured and no password was given directly.
func (c *AppConfig) ResolveDatabasePassword(ctx context.Context) error {
	if c.Database.SecretID == "" || c.Database.DBPassword != "" {
		return nil
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(c.AWS.Region))
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}
	password, err := fetchPassword(ctx, secretsmanager.NewFromConfig(cfg), c.Database.SecretID)
	if err != nil {
		return err
	}
	c.Database.DBPassword = password
	return nil
}

// fetchPassword accepts either a raw string secret or the JSON shape
// RDS-managed secrets use ({"username": ..., "password": ...}).
func fetchPassword(ctx context.Context, client SecretGetter, secretID string) (string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", secretID, err)
	}
	raw := aws.ToString(out.SecretString)
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return raw, nil
	}
	var payload struct {
		Password string `json:"password"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("decode secret %s: %w", secretID, err)
	}
	if payload.Password == "" {
		return "", fmt.Errorf("secret %s has no password field", secretID)
	}
	return payload.Password, nil
}
