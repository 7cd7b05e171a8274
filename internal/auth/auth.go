// Package auth loads Google service-account credentials for the GCS
// backend. The credentials file is an explicit config value rather than
// the GOOGLE_APPLICATION_CREDENTIALS environment variable, so tests and
// multiple daemon instances do not fight over process-global state.
package auth

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

func TokenSource(ctx context.Context, credentialsFile string, scopes ...string) (oauth2.TokenSource, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("could not read credentials file '%s': %w", credentialsFile, err)
	}

	creds, err := google.CredentialsFromJSON(ctx, b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("could not parse credentials file '%s': %w", credentialsFile, err)
	}
	return creds.TokenSource, nil
}
