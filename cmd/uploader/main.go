// Command uploader pushes a single file through the upload pipeline and
// reports the reconciled status. Intended for operators and CI jobs that
// bypass the dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"medialift/internal/models"
	"medialift/internal/observability/logging"
	"medialift/internal/policy"
	"medialift/internal/resource"
	"medialift/internal/status"
	"medialift/internal/tickets"
	"medialift/internal/upload"
)

func main() {
	apiURL := flag.String("api-url", "", "base URL of the Medialift resource API")
	apiToken := flag.String("api-token", "", "bearer token for the resource API")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint for direct signing")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectType := flag.String("type", "video", "object type (video, document, sharedlivemedia, timedtexttrack)")
	objectID := flag.String("id", "", "object id the upload belongs to")
	filePath := flag.String("file", "", "path of the file to upload")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall deadline for the upload")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MEDIALIFT_LOG_LEVEL")),
		Format: "text",
	})

	parsedType, err := models.ParseObjectType(strings.TrimSpace(*objectType))
	if err != nil {
		logger.Error("invalid object type", "error", err)
		os.Exit(2)
	}
	if strings.TrimSpace(*objectID) == "" {
		logger.Error("an object id is required")
		os.Exit(2)
	}
	if strings.TrimSpace(*filePath) == "" {
		logger.Error("a file path is required")
		os.Exit(2)
	}

	source, err := upload.FileSource(*filePath)
	if err != nil {
		logger.Error("cannot read upload file", "error", err)
		os.Exit(1)
	}

	var (
		issuer      policy.Issuer
		resourceAPI *resource.Client
	)
	if baseURL := firstNonEmpty(*apiURL, os.Getenv("MEDIALIFT_RESOURCE_API_URL")); baseURL != "" {
		resourceAPI, err = resource.New(resource.Config{
			BaseURL: baseURL,
			Token:   firstNonEmpty(*apiToken, os.Getenv("MEDIALIFT_RESOURCE_API_TOKEN")),
		})
		if err != nil {
			logger.Error("failed to configure resource api client", "error", err)
			os.Exit(1)
		}
		issuer = resourceAPI
	} else {
		issuer, err = policy.NewSigner(policy.SignerConfig{
			Endpoint:  firstNonEmpty(*objectEndpoint, os.Getenv("MEDIALIFT_OBJECT_ENDPOINT")),
			Region:    firstNonEmpty(*objectRegion, os.Getenv("MEDIALIFT_OBJECT_REGION")),
			AccessKey: firstNonEmpty(*objectAccessKey, os.Getenv("MEDIALIFT_OBJECT_ACCESS_KEY")),
			SecretKey: firstNonEmpty(*objectSecretKey, os.Getenv("MEDIALIFT_OBJECT_SECRET_KEY")),
			Bucket:    firstNonEmpty(*objectBucket, os.Getenv("MEDIALIFT_OBJECT_BUCKET")),
			UseSSL:    *objectUseSSL,
		})
		if err != nil {
			logger.Error("failed to configure upload signer", "error", err)
			os.Exit(1)
		}
	}

	orchestrator := upload.New(upload.Config{
		Tickets:  tickets.NewMemoryStore(),
		Policies: issuer,
		Logger:   logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger.Info("uploading", "object_id", *objectID, "type", parsedType, "file", source.Name, "bytes", source.Size)
	ticket, err := orchestrator.UploadNow(ctx, parsedType, strings.TrimSpace(*objectID), source)
	if err != nil {
		logger.Error("upload failed", "error", err)
		os.Exit(1)
	}

	// The local attempt reports success; the server confirms asynchronously,
	// so the displayed status stays Processing until the webhook lands.
	serverState := models.UploadStatePending
	if resourceAPI != nil {
		object, err := resourceAPI.Get(ctx, parsedType, strings.TrimSpace(*objectID))
		if err != nil {
			logger.Warn("cannot confirm server state", "error", err)
		} else {
			serverState = object.UploadState
		}
	}
	display := status.Derive(serverState, &ticket)

	fmt.Printf("object %s: progress=%d%% status=%s displayStatus=%s\n",
		ticket.ObjectID, ticket.Progress, ticket.Status, display)
	_ = orchestrator.Shutdown(context.Background())
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
