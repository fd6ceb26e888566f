package openai

import (
	"sync"

	"github.com/OFFIS-RIT/stagegraph/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// StageOpenAIClient implements ai.StageAIClient against any OpenAI
// compatible chat completion endpoint.
//
// A StageOpenAIClient should be created using NewStageOpenAIClient.
type StageOpenAIClient struct {
	narrativeModel  string
	extractionModel string

	chatURL string

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient *openai.Client
}

// NewStageOpenAIClientParams defines the configuration parameters for
// creating a new StageOpenAIClient.
//
// NarrativeModel writes the stage outputs, ExtractionModel produces the
// ontology payloads and falls back to NarrativeModel when empty. ChatURL
// and ChatKey configure the endpoint; an empty ChatURL means api.openai.com.
type NewStageOpenAIClientParams struct {
	NarrativeModel  string
	ExtractionModel string

	ChatURL string
	ChatKey string
}

// NewStageOpenAIClient creates a client configured with the provided parameters.
//
// Example:
//
//	client := openai.NewStageOpenAIClient(openai.NewStageOpenAIClientParams{
//		NarrativeModel: "gpt-4o-mini",
//		ChatKey:        os.Getenv("AI_CHAT_KEY"),
//	})
func NewStageOpenAIClient(params NewStageOpenAIClientParams) *StageOpenAIClient {
	extraction := params.ExtractionModel
	if extraction == "" {
		extraction = params.NarrativeModel
	}
	return &StageOpenAIClient{
		narrativeModel:  params.NarrativeModel,
		extractionModel: extraction,
		chatURL:         params.ChatURL,
		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)
	return &client
}
