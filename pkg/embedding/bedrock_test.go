package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBedrockClient struct {
	inputs []*bedrockruntime.InvokeModelInput
	body   []byte
	err    error
}

func (f *fakeBedrockClient) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestBedrockGenerate(t *testing.T) {
	client := &fakeBedrockClient{body: []byte(`{"embedding": [0.1, 0.2, 0.3], "inputTextTokenCount": 4}`)}
	gen := NewBedrockGeneratorWithClient(client, "")

	vec, err := gen.Generate(context.Background(), "sea surface temperature", "collection", "title")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	require.Len(t, client.inputs, 1)
	assert.Equal(t, defaultBedrockModel, *client.inputs[0].ModelId)

	var req titanEmbeddingRequest
	require.NoError(t, json.Unmarshal(client.inputs[0].Body, &req))
	assert.Equal(t, "sea surface temperature", req.InputText)
}

func TestBedrockGenerateErrors(t *testing.T) {
	t.Run("invoke failure", func(t *testing.T) {
		gen := NewBedrockGeneratorWithClient(&fakeBedrockClient{err: errors.New("throttled")}, "custom-model")

		_, err := gen.Generate(context.Background(), "text", "collection", "title")
		var embErr *EmbeddingError
		require.True(t, errors.As(err, &embErr))
	})

	t.Run("empty embedding", func(t *testing.T) {
		gen := NewBedrockGeneratorWithClient(&fakeBedrockClient{body: []byte(`{"embedding": []}`)}, "")

		_, err := gen.Generate(context.Background(), "text", "collection", "title")
		var embErr *EmbeddingError
		require.True(t, errors.As(err, &embErr))
	})

	t.Run("unparseable response", func(t *testing.T) {
		gen := NewBedrockGeneratorWithClient(&fakeBedrockClient{body: []byte(`nope`)}, "")

		_, err := gen.Generate(context.Background(), "text", "collection", "title")
		assert.Error(t, err)
	})
}

func TestBedrockCircuitBreakerOpens(t *testing.T) {
	client := &fakeBedrockClient{err: errors.New("model unavailable")}
	gen := NewBedrockGeneratorWithClient(client, "")

	for i := 0; i < 5; i++ {
		_, err := gen.Generate(context.Background(), "text", "collection", "title")
		require.Error(t, err)
	}
	calls := len(client.inputs)

	// Breaker is open now; the client must not be hit again.
	_, err := gen.Generate(context.Background(), "text", "collection", "title")
	require.Error(t, err)
	assert.Equal(t, calls, len(client.inputs))
}
