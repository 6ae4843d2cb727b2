// Package ses implements a Transport that sends envelopes via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/contact-form-lite/internal/email"
	"github.com/shineum/contact-form-lite/internal/transport"
)

// authErrorCodes are AWS error codes that mean the credentials were rejected.
var authErrorCodes = map[string]bool{
	"InvalidClientTokenId":        true,
	"SignatureDoesNotMatch":       true,
	"UnrecognizedClientException": true,
	"AccessDeniedException":       true,
	"ExpiredToken":                true,
}

// Config holds the configuration for creating a Transport.
// Empty fields fall back to SES_* and then the standard AWS environment.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	LookupEnv       transport.LookupEnv
}

// Transport sends envelopes via the AWS SES v2 API.
type Transport struct {
	client SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a Transport. Credentials are resolved once here, so a missing
// or broken credential source fails at startup with ErrMissingCredentials.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	region := transport.FirstNonEmpty(cfg.LookupEnv, cfg.Region, "SES_REGION", "AWS_REGION", "AWS_DEFAULT_REGION")
	if region == "" {
		return nil, fmt.Errorf("ses: region is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))

	keyID := transport.FirstNonEmpty(cfg.LookupEnv, cfg.AccessKeyID, "SES_ACCESS_KEY_ID")
	secret := transport.FirstNonEmpty(cfg.LookupEnv, cfg.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	if keyID != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keyID, secret, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if awsCfg.Credentials == nil {
		return nil, fmt.Errorf("ses: %w", transport.ErrMissingCredentials)
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("ses: %w: %v", transport.ErrMissingCredentials, err)
	}

	return &Transport{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewWithClient creates a Transport with a custom client, used for testing.
func NewWithClient(client SendEmailAPI) *Transport {
	return &Transport{client: client}
}

// Deliver sends the envelope via AWS SES v2. Envelopes with an attachment
// are sent as a raw MIME message; everything else uses simple content.
func (s *Transport) Deliver(ctx context.Context, env *email.Envelope) error {
	var input *sesv2.SendEmailInput

	if env.Attachment != nil {
		raw, err := env.Raw()
		if err != nil {
			return fmt.Errorf("%w: %v", transport.ErrDelivery, err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(env.From),
			Destination:      &types.Destination{ToAddresses: []string{env.To}},
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		}
	} else {
		input = buildSimpleInput(env)
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		slog.Error("SES API error",
			"message_id", env.MessageID,
			"error", err,
		)
		return classifyError(err)
	}
	return nil
}

// Name returns the transport name.
func (s *Transport) Name() string {
	return "ses"
}

// buildSimpleInput creates a SES SendEmailInput for envelopes without attachments.
func buildSimpleInput(env *email.Envelope) *sesv2.SendEmailInput {
	body := &types.Body{
		Text: &types.Content{
			Data:    aws.String(env.TextBody),
			Charset: aws.String("UTF-8"),
		},
	}
	if env.HTMLBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(env.HTMLBody),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.From),
		Destination:      &types.Destination{ToAddresses: []string{env.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(env.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
	if env.ReplyTo != "" {
		input.ReplyToAddresses = []string{env.ReplyTo}
	}
	return input
}

// classifyError maps an SES API error onto the transport sentinel errors.
func classifyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authErrorCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("ses: %w: %v", transport.ErrAuthentication, err)
	}
	return fmt.Errorf("ses: %w: %v", transport.ErrDelivery, err)
}
