package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"hindsight/internal/domain"
)

// bedrockInvokeAPI abstracts the Bedrock runtime method for testability.
type bedrockInvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider implements domain.EmbeddingProvider via the AWS Bedrock
// InvokeModel API (Titan text embeddings). It is the remote alternative to
// the local WASM model for hosts without a cached model binary.
type BedrockProvider struct {
	model  string
	client bedrockInvokeAPI
	logger *slog.Logger
}

// NewBedrockProvider creates a Bedrock embedding provider using the default
// AWS credential chain.
func NewBedrockProvider(region, model string, logger *slog.Logger) (*BedrockProvider, error) {
	if region == "" {
		region = "us-east-1"
	}
	if model == "" {
		model = "amazon.titan-embed-text-v2:0"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &BedrockProvider{
		model:  model,
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// newBedrockProviderWithClient creates a BedrockProvider with an injected
// client (for testing).
func newBedrockProviderWithClient(model string, client bedrockInvokeAPI, logger *slog.Logger) *BedrockProvider {
	return &BedrockProvider{model: model, client: client, logger: logger}
}

// --- Titan embeddings wire types ---

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions"`
	Normalize  bool   `json:"normalize"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements domain.EmbeddingProvider. Titan takes one input per call,
// so batches are sequential invocations.
func (p *BedrockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		body, err := json.Marshal(titanEmbedRequest{
			InputText:  text,
			Dimensions: domain.EmbeddingDimensions,
			Normalize:  true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrEmbeddingFailed, err)
		}

		resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(p.model),
			ContentType: aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: invoke model: %v", domain.ErrEmbeddingFailed, err)
		}

		var parsed titanEmbedResponse
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrEmbeddingFailed, err)
		}
		if len(parsed.Embedding) != domain.EmbeddingDimensions {
			return nil, fmt.Errorf("%w: model returned %d dimensions, want %d",
				domain.ErrEmbeddingFailed, len(parsed.Embedding), domain.EmbeddingDimensions)
		}
		out[i] = Normalize(parsed.Embedding)
	}
	return out, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *BedrockProvider) Dimensions() int { return domain.EmbeddingDimensions }

// Name implements domain.EmbeddingProvider.
func (p *BedrockProvider) Name() string { return "bedrock" }

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*BedrockProvider)(nil)
