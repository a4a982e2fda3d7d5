// Package utility holds small helpers shared by the fixfinder binaries.
package utility

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// GetSecret retrieves the named Cloud Secret version, e.g.
// "projects/p/secrets/github-token/versions/latest", and returns its payload.
func GetSecret(ctx context.Context, secretVersion string) (string, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretVersion,
	})
	if err != nil {
		return "", fmt.Errorf("accessing %s: %w", secretVersion, err)
	}

	return string(resp.GetPayload().GetData()), nil
}
