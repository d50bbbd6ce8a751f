package notifications

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"controlled-docs/edms-backend/internal/models"
)

const (
	ChannelEmail = "email"
	ChannelSNS   = "sns"
)

// Channel delivers one notification to one recipient.
type Channel interface {
	Name() string
	Send(ctx context.Context, n *Notification, recipient *models.User) error
}

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailChannel sends plain-text mail through SES.
type EmailChannel struct {
	client SESAPI
	sender string
}

func NewEmailChannel(client SESAPI, sender string) *EmailChannel {
	return &EmailChannel{client: client, sender: sender}
}

func (c *EmailChannel) Name() string { return ChannelEmail }

func (c *EmailChannel) Send(ctx context.Context, n *Notification, recipient *models.User) error {
	if recipient.Email == "" {
		return fmt.Errorf("user %s has no email address", recipient.ID)
	}
	_, err := c.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.sender),
		Destination:      &sestypes.Destination{ToAddresses: []string{recipient.Email}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(n.Subject), Charset: aws.String("UTF-8")},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(n.Message), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// TopicChannel publishes every notification to an SNS topic so downstream
// quality systems can subscribe.
type TopicChannel struct {
	client   SNSAPI
	topicARN string
}

func NewTopicChannel(client SNSAPI, topicARN string) *TopicChannel {
	return &TopicChannel{client: client, topicARN: topicARN}
}

func (c *TopicChannel) Name() string { return ChannelSNS }

func (c *TopicChannel) Send(ctx context.Context, n *Notification, recipient *models.User) error {
	subject := n.Subject
	if len(subject) > 100 {
		subject = subject[:100]
	}
	attrs := map[string]snstypes.MessageAttributeValue{
		"notification_type": {DataType: aws.String("String"), StringValue: aws.String(n.Type)},
		"recipient_id":      {DataType: aws.String("String"), StringValue: aws.String(recipient.ID.String())},
		"priority":          {DataType: aws.String("String"), StringValue: aws.String(n.Priority)},
	}
	if n.WorkflowID != nil {
		attrs["workflow_id"] = snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(n.WorkflowID.String())}
	}
	_, err := c.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(c.topicARN),
		Subject:           aws.String(subject),
		Message:           aws.String(n.Message),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
