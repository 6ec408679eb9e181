// Package secret resolves the credentials the service needs at startup: the
// platform client secret, the JWT signing secret, and the gateway origin
// secret. Production reads SecureString parameters from SSM Parameter Store;
// dev mode reads plain environment variables under the same names.
package secret

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves one secret value by its parameter path.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver reads SecureString parameters with decryption enabled.
type SSMResolver struct {
	client SSMClient
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
func NewSSMResolver(client SSMClient) Resolver {
	return &SSMResolver{client: client}
}

// GetSecret fetches and decrypts the parameter. An empty stored value counts
// as unresolved so a misprovisioned parameter cannot silently disable auth.
func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("fetch parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", fmt.Errorf("parameter %s resolved empty", name)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver serves dev mode, where no SSM access exists.
type EnvResolver struct{}

// NewEnvResolver returns a Resolver that reads environment variables.
func NewEnvResolver() Resolver {
	return &EnvResolver{}
}

// GetSecret maps the parameter path onto an environment variable and reads
// it. "/vantage/jwt-secret" reads JWT_SECRET.
func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := envVarFor(name)
	if val := os.Getenv(envName); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("secret %s unset: export %s when running in dev mode", name, envName)
}

// envVarFor derives the variable name from the last path segment, uppercased
// with hyphens turned into underscores.
func envVarFor(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}
