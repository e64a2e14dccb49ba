package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return client, srv
}

func TestPublishDeliversPayload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "captures")
	require.NoError(t, err)

	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(ctx, "captures", []byte(`{"asset_id":"a"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, `{"asset_id":"a"}`, string(msgs[0].Data))
	require.Equal(t, "application/json", msgs[0].Attributes["content-type"])
}

func TestPublishInjectsTraceContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "captures")
	require.NoError(t, err)

	pub := New(client)
	pub.propagator = propagation.TraceContext{}
	t.Cleanup(func() { _ = pub.Close() })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	_, err = pub.Publish(ctx, "captures", []byte(`{}`))
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", msgs[0].Attributes["traceparent"])
	require.Equal(t, "application/json", msgs[0].Attributes["content-type"])
}

func TestPublishUnknownTopic(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t)
	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(context.Background(), "missing", []byte("{}"))
	require.Error(t, err)
}

func TestPublishValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", nil)
	require.Error(t, err)

	client, _ := newFakeClient(t)
	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })
	_, err = pub.Publish(context.Background(), "", nil)
	require.Error(t, err)
}

func TestNewClientRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), "")
	require.Error(t, err)
}
