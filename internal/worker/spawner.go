package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rotisserie/eris"
)

// SpawnRequest is the payload handed to a successor invocation.
type SpawnRequest struct {
	QueueURL  string    `json:"queue_url,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// NopSpawner never starts successors; the backlog waits for the next
// scheduled run.
type NopSpawner struct{}

// Spawn implements pipeline.Spawner.
func (NopSpawner) Spawn(context.Context) error { return nil }

// LambdaAPI is the subset of the Lambda client used by LambdaSpawner.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaSpawner starts a successor with an asynchronous Lambda invocation.
type LambdaSpawner struct {
	client   LambdaAPI
	function string
	queueURL string
	now      func() time.Time
}

// NewLambdaSpawner creates a LambdaSpawner for function.
func NewLambdaSpawner(client LambdaAPI, function, queueURL string) *LambdaSpawner {
	return &LambdaSpawner{client: client, function: function, queueURL: queueURL, now: time.Now}
}

// NewLambdaClient builds a Lambda client, pointing it at endpoint when set.
func NewLambdaClient(awsCfg aws.Config, endpoint *string) *lambda.Client {
	return lambda.NewFromConfig(awsCfg, func(o *lambda.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
}

// Spawn implements pipeline.Spawner.
func (s *LambdaSpawner) Spawn(ctx context.Context) error {
	payload, err := json.Marshal(SpawnRequest{QueueURL: s.queueURL, StartTime: s.now().UTC()})
	if err != nil {
		return eris.Wrap(err, "worker: encode spawn request")
	}
	out, err := s.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(s.function),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return eris.Wrapf(err, "worker: invoke %s", s.function)
	}
	if out.StatusCode != http.StatusAccepted {
		return eris.Errorf("worker: invoke %s: unexpected status %d", s.function, out.StatusCode)
	}
	return nil
}

// HTTPSpawner starts a successor by posting to a worker endpoint that
// accepts the run and returns immediately.
type HTTPSpawner struct {
	client *http.Client
	url    string
	now    func() time.Time
}

// NewHTTPSpawner creates an HTTPSpawner posting to url. A nil client gets a
// 10 second timeout.
func NewHTTPSpawner(client *http.Client, url string) *HTTPSpawner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSpawner{client: client, url: url, now: time.Now}
}

// Spawn implements pipeline.Spawner.
func (s *HTTPSpawner) Spawn(ctx context.Context) error {
	body, err := json.Marshal(SpawnRequest{StartTime: s.now().UTC()})
	if err != nil {
		return eris.Wrap(err, "worker: encode spawn request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "worker: build spawn request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "worker: post %s", s.url)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return eris.Errorf("worker: post %s: status %d", s.url, resp.StatusCode)
	}
	return nil
}
