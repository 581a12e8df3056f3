// Package lambdaboot holds the cold-start bootstrap shared by the Lambda
// entry points: AWS config, S3, DynamoDB, SSM parameter fetch and startup
// logging. Each Lambda's init() is a short composition of these helpers.
package lambdaboot

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-deck-builder/internal/auth"
	"github.com/fpang/ai-deck-builder/internal/export"
	"github.com/fpang/ai-deck-builder/internal/logging"
	"github.com/fpang/ai-deck-builder/internal/store"
)

const (
	// APIKeyParamEnv names the variable overriding DefaultAPIKeyParam.
	APIKeyParamEnv = "SSM_API_KEY_PARAM"
	// DefaultAPIKeyParam is the SSM parameter holding the Gemini API key.
	DefaultAPIKeyParam = "/ai-deck-builder/prod/gemini-api-key"
)

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds S3 client, presigner, and bucket name.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// ParameterGetter is the SSM surface used to read secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client and presigner for bucket. It returns nil when
// bucket is empty; decks then keep their images inline and link export is
// unavailable.
func InitS3(cfg aws.Config, bucket string) *S3Clients {
	if bucket == "" {
		log.Warn().Msg("No S3 bucket configured, image offload and bundle links disabled")
		return nil
	}
	client := s3.NewFromConfig(cfg)
	return &S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    bucket,
	}
}

// Offloader returns an image offloader writing under prefix/images.
func (c *S3Clients) Offloader(prefix string) *store.S3ImageOffloader {
	return &store.S3ImageOffloader{Client: c.Client, Bucket: c.Bucket, Prefix: joinPrefix(prefix, "images")}
}

// Uploader returns a bundle uploader writing under prefix/bundles.
func (c *S3Clients) Uploader(prefix string) *export.Uploader {
	return &export.Uploader{
		Client:    c.Client,
		Presigner: c.Presigner,
		Bucket:    c.Bucket,
		Prefix:    joinPrefix(prefix, "bundles"),
		Expiry:    export.DefaultLinkExpiry,
	}
}

func joinPrefix(prefix, sub string) string {
	if prefix == "" {
		return sub
	}
	return prefix + "/" + sub
}

// InitDynamo creates a DynamoDB deck store for table. Fatals if table is empty.
func InitDynamo(cfg aws.Config, table string) *store.DynamoStore {
	if table == "" {
		log.Fatal().Msg("DynamoDB table name is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table)
}

// FetchParameter reads one SSM parameter value.
func FetchParameter(ctx context.Context, client ParameterGetter, name string, decrypt bool) (string, error) {
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(decrypt),
	})
	if err != nil {
		return "", err
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", errors.New("parameter " + name + " has no value")
	}
	log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("SSM parameter loaded")
	return *result.Parameter.Value, nil
}

// APIKeyParam returns the SSM parameter name for the Gemini API key.
func APIKeyParam() string {
	return logging.EnvOrDefault(APIKeyParamEnv, DefaultAPIKeyParam)
}

// LoadGeminiKey fetches the Gemini API key from SSM Parameter Store unless
// GEMINI_API_KEY is already set, and exports it into the environment.
// Fatals on error.
func LoadGeminiKey(client ParameterGetter) {
	if os.Getenv(auth.KeyEnv) != "" {
		return
	}
	param := APIKeyParam()
	key, err := FetchParameter(context.Background(), client, param, true)
	if err != nil {
		log.Fatal().Err(err).Str("param", param).Msg("Failed to read API key from SSM")
	}
	os.Setenv(auth.KeyEnv, key)
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
