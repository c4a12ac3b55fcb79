package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/marketledger-backend/pkg/config"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

var errProjectIDRequired = errors.New("gcp project id is required")

// Client wraps the Pub/Sub v2 client with the project's topic and
// subscription names resolved to full resource paths.
type Client struct {
	client        *pubsub.Client
	projectID     string
	topics        []string
	subscriptions []string
	ledgerSub     string
}

// NewClient dials Pub/Sub and fails fast when a configured topic or
// subscription is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: psClient, projectID: projectID}
	for _, topic := range []string{cfg.OrdersTopic, cfg.LedgerTopic, cfg.NotificationTopic} {
		if full := c.topicResourceName(topic); full != "" {
			c.topics = append(c.topics, full)
		}
	}
	if full := c.subscriptionResourceName(cfg.LedgerSubscription); full != "" {
		c.ledgerSub = full
		c.subscriptions = append(c.subscriptions, full)
	}

	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{"topics": len(c.topics), "subscriptions": len(c.subscriptions)})
		logg.Info(ctx, "pubsub client initialized")
	}
	return c, nil
}

// Ping confirms every configured topic and subscription still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	for _, topic := range c.topics {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topic})
		if err := resourceErr("topic", topic, err); err != nil {
			return err
		}
	}
	for _, sub := range c.subscriptions {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: sub})
		if err := resourceErr("subscription", sub, err); err != nil {
			return err
		}
	}
	return nil
}

func resourceErr(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// LedgerSubscription is nil when no ledger subscription is configured.
func (c *Client) LedgerSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil || c.ledgerSub == "" {
		return nil
	}
	return c.client.Subscriber(c.ledgerSub)
}

// Publisher accepts a topic ID or a full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.topicResourceName(name)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) topicResourceName(name string) string {
	return c.resourceName("topics", name)
}

func (c *Client) subscriptionResourceName(name string) string {
	return c.resourceName("subscriptions", name)
}

// resourceName expands an ID to projects/<project>/<collection>/<id>. Names
// already in resource form pass through.
func (c *Client) resourceName(collection, name string) string {
	if c == nil {
		return ""
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+collection+"/") {
		return name
	}
	if c.projectID == "" {
		return ""
	}
	return "projects/" + c.projectID + "/" + collection + "/" + name
}
