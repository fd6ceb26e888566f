package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/OFFIS-RIT/stagegraph/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// StageOllamaClient implements ai.StageAIClient against a (possibly remote)
// Ollama server.
type StageOllamaClient struct {
	narrativeModel  string
	extractionModel string

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewStageOllamaClientParams contains configuration options for creating a
// new StageOllamaClient.
type NewStageOllamaClientParams struct {
	NarrativeModel  string
	ExtractionModel string

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewStageOllamaClient connects to the Ollama server at BaseURL, or the
// default one when empty. When ApiKey is set it is sent as a bearer token.
func NewStageOllamaClient(params NewStageOllamaClientParams) (*StageOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	rt := http.DefaultTransport
	if params.ApiKey != "" {
		rt = &headerTransport{
			headers: map[string]string{"Authorization": "Bearer " + params.ApiKey},
			rt:      rt,
		}
	}

	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 1
	}
	extraction := params.ExtractionModel
	if extraction == "" {
		extraction = params.NarrativeModel
	}

	return &StageOllamaClient{
		narrativeModel:  params.NarrativeModel,
		extractionModel: extraction,
		reqLock:         semaphore.NewWeighted(params.MaxConcurrentRequests),
		Client:          api.NewClient(u, &http.Client{Transport: rt}),
	}, nil
}
