package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/tutorbill-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := map[string]struct {
		project string
		topic   string
		want    string
	}{
		"short id":   {project: "proj", topic: "billing", want: "projects/proj/topics/billing"},
		"full name":  {project: "other", topic: "projects/proj/topics/billing", want: "projects/proj/topics/billing"},
		"trimmed":    {project: " proj ", topic: " billing ", want: "projects/proj/topics/billing"},
		"no topic":   {project: "proj", topic: "", want: ""},
		"no project": {project: "", topic: "billing", want: ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, topicResourceName(tc.project, tc.topic))
		})
	}
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	assert.Empty(t, topicNames(config.PubSubConfig{BillingTopic: "  "}))
	assert.Equal(t, []string{"billing"}, topicNames(config.PubSubConfig{BillingTopic: " billing"}))
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	_, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{BillingTopic: "billing"}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(ctx, config.GCPConfig{ProjectID: "proj"}, config.PubSubConfig{}, nil)
	assert.ErrorIs(t, err, errNoTopics)
}

func TestNilClient(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("billing"))
	assert.False(t, c.Ordering())
	assert.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
	assert.NoError(t, c.Close())
}
