package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLambda struct {
	input  *lambda.InvokeInput
	status int32
	err    error
}

func (f *fakeLambda) Invoke(_ context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &lambda.InvokeOutput{StatusCode: f.status}, nil
}

func TestLambdaSpawner(t *testing.T) {
	f := &fakeLambda{status: http.StatusAccepted}
	s := NewLambdaSpawner(f, "skiatlas-worker", "https://sqs.example/q")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Spawn(context.Background()))
	require.NotNil(t, f.input)
	assert.Equal(t, "skiatlas-worker", aws.ToString(f.input.FunctionName))
	assert.Equal(t, types.InvocationTypeEvent, f.input.InvocationType)

	var req SpawnRequest
	require.NoError(t, json.Unmarshal(f.input.Payload, &req))
	assert.Equal(t, "https://sqs.example/q", req.QueueURL)
	assert.True(t, fixed.Equal(req.StartTime))
}

func TestLambdaSpawner_Errors(t *testing.T) {
	err := NewLambdaSpawner(&fakeLambda{err: errors.New("denied")}, "fn", "").Spawn(context.Background())
	assert.ErrorContains(t, err, "denied")

	err = NewLambdaSpawner(&fakeLambda{status: http.StatusOK}, "fn", "").Spawn(context.Background())
	assert.ErrorContains(t, err, "unexpected status 200")
}

func TestHTTPSpawner(t *testing.T) {
	var got SpawnRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/worker", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, NewHTTPSpawner(srv.Client(), srv.URL+"/v1/worker").Spawn(context.Background()))
	assert.False(t, got.StartTime.IsZero())
}

func TestHTTPSpawner_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewHTTPSpawner(nil, srv.URL).Spawn(context.Background())
	assert.ErrorContains(t, err, "status 503")
}

func TestHTTPSpawner_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	assert.Error(t, NewHTTPSpawner(nil, url).Spawn(context.Background()))
}

func TestNopSpawner(t *testing.T) {
	assert.NoError(t, NopSpawner{}.Spawn(context.Background()))
}
