package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/sony/gobreaker"
)

const defaultBedrockModel = "amazon.titan-embed-text-v2:0"

// BedrockRuntimeClient is the subset of the Bedrock runtime API used here,
// declared as an interface so tests can inject fakes.
type BedrockRuntimeClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Titan embedding request and response bodies.
type titanEmbeddingRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbeddingResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// BedrockConfig holds settings for the Bedrock generator.
type BedrockConfig struct {
	Region  string
	ModelID string
	Timeout time.Duration
}

// BedrockGenerator generates embeddings via Amazon Bedrock Titan models.
// A circuit breaker sheds load while the model endpoint is failing so a
// broken backend does not burn the whole redelivery budget of every
// message.
type BedrockGenerator struct {
	client  BedrockRuntimeClient
	modelID string
	breaker *gobreaker.CircuitBreaker
}

// NewBedrockGenerator creates a generator from the default AWS
// configuration.
func NewBedrockGenerator(ctx context.Context, cfg BedrockConfig) (*BedrockGenerator, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewBedrockGeneratorWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg.ModelID), nil
}

// NewBedrockGeneratorWithClient creates a generator with an injected
// runtime client, primarily for tests.
func NewBedrockGeneratorWithClient(client BedrockRuntimeClient, modelID string) *BedrockGenerator {
	if modelID == "" {
		modelID = defaultBedrockModel
	}
	return &BedrockGenerator{
		client:  client,
		modelID: modelID,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "bedrock-" + modelID,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// ModelID identifies the Bedrock model.
func (g *BedrockGenerator) ModelID() string { return g.modelID }

// Generate invokes the model with the Titan request body and returns the
// embedding vector. Any upstream failure is an EmbeddingError.
func (g *BedrockGenerator) Generate(ctx context.Context, text, conceptType, attribute string) ([]float32, error) {
	body, err := json.Marshal(titanEmbeddingRequest{InputText: text})
	if err != nil {
		return nil, &EmbeddingError{Message: "failed to marshal embedding request", Err: err}
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(g.modelID),
			Body:        body,
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
		})
	})
	if err != nil {
		return nil, &EmbeddingError{Message: fmt.Sprintf("failed to invoke model %s", g.modelID), Err: err}
	}

	out := result.(*bedrockruntime.InvokeModelOutput)

	var resp titanEmbeddingResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, &EmbeddingError{Message: "failed to parse embedding response", Err: err}
	}
	if len(resp.Embedding) == 0 {
		return nil, &EmbeddingError{Message: "model returned an empty embedding"}
	}
	return resp.Embedding, nil
}
