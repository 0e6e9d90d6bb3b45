//go:build integration

package kafka_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"domamart/internal/platform/kafka"
	audit "domamart/pkg/platform/audit"
	auditkafka "domamart/pkg/platform/audit/store/kafka"
	"domamart/pkg/testutil/containers"
)

func TestStore_ProducesToBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rp := containers.NewRedpandaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	const topic = "doma.activity.test"
	client, err := kafka.NewClient(kafka.Config{Brokers: rp.Brokers, ClientID: "audit-test"})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, kafka.EnsureTopic(ctx, client, topic, 1, 1))

	store, err := auditkafka.New(client, topic)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, audit.Event{TokenID: "T1", EventType: "DOMA_NAME_LISTED"}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)
	require.Equal(t, "T1", string(records[0].Key))
}
