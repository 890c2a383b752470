package config

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// InitFirebase initializes the Firebase Admin SDK for push notifications.
// It returns nil, nil when no credentials are configured.
func InitFirebase(ctx context.Context, logger *zap.Logger) (*firebase.App, error) {
	var opt option.ClientOption
	switch {
	case os.Getenv("FIREBASE_CREDENTIALS_BASE64") != "":
		decoded, err := base64.StdEncoding.DecodeString(os.Getenv("FIREBASE_CREDENTIALS_BASE64"))
		if err != nil {
			return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
		}
		logger.Info("using Firebase credentials from base64 environment variable")
		opt = option.WithCredentialsJSON(decoded)
	case os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
		credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		if _, err := os.Stat(credFile); err != nil {
			return nil, fmt.Errorf("firebase credentials file: %w", err)
		}
		logger.Info("using Firebase credentials file", zap.String("path", credFile))
		opt = option.WithCredentialsFile(credFile)
	default:
		logger.Info("Firebase credentials not configured, push notifications disabled")
		return nil, nil
	}

	var cfg *firebase.Config
	if projectID := os.Getenv("FIREBASE_PROJECT_ID"); projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, cfg, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	return app, nil
}
